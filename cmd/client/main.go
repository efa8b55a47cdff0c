package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/dashboard"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/logger"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/producer"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/session"
)

type streamFlags struct {
	server      string
	port        int
	interval    int
	fps         int
	frameDir    string
	yuvFile     string
	yuvSize     string
	duration    time.Duration
	interactive bool
}

var (
	flags streamFlags

	rootCmd = &cobra.Command{
		Use:          "drowsiness-client",
		Short:        "Stream camera frames to the drowsiness analysis server",
		SilenceUsage: true,
	}

	streamCmd = &cobra.Command{
		Use:   "stream",
		Short: "Connect, stream frames and show analysis results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd)
		},
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Query the server health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd)
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{streamCmd, healthCmd} {
		c.Flags().StringVar(&flags.server, "server", "", "server address, e.g. 192.168.1.20 or wss://host/ws/video/ (default $SERVER_ADDRESS)")
		c.Flags().IntVar(&flags.port, "port", 0, "server port (default $SERVER_PORT)")
	}
	streamCmd.Flags().IntVar(&flags.interval, "interval", 0, "analyse every Nth frame (default $ANALYSIS_INTERVAL)")
	streamCmd.Flags().IntVar(&flags.fps, "fps", 0, "frames captured per second (default $CAPTURE_FPS)")
	streamCmd.Flags().StringVar(&flags.frameDir, "frames", "", "directory of JPEG/PNG frames; a synthetic face is used when empty")
	streamCmd.Flags().StringVar(&flags.yuvFile, "yuv", "", "raw I420 file to replay instead of image frames (default $YUV_FILE)")
	streamCmd.Flags().StringVar(&flags.yuvSize, "yuv-size", "", "frame size of the --yuv file, e.g. 640x480 (default $YUV_SIZE)")
	streamCmd.Flags().DurationVar(&flags.duration, "duration", 0, "stop after this long, 0 streams until interrupted")
	streamCmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false, "read commands from stdin instead of recording immediately")
	rootCmd.AddCommand(streamCmd, healthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadClientConfig overlays command line flags on the environment.
func loadClientConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	c := &cfg.Client
	if flags.server != "" {
		c.ServerAddress = flags.server
	}
	if flags.port > 0 {
		c.ServerPort = flags.port
	}
	if flags.interval > 0 {
		c.Interval = flags.interval
	}
	if flags.fps > 0 {
		c.FPS = flags.fps
	}
	if flags.frameDir != "" {
		c.FrameDir = flags.frameDir
	}
	if flags.yuvFile != "" {
		c.YUVFile = flags.yuvFile
	}
	if flags.yuvSize != "" {
		c.YUVSize = flags.yuvSize
	}
	return cfg, nil
}

func runStream(cmd *cobra.Command) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	src, err := frameSource(cfg.Client)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	sess := session.New(log, session.Options{
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		AccessToken:      cfg.Client.AccessToken,
	})
	defer sess.Close()

	enc := producer.NewEncoder(cfg.Client.JPEGQuality, cfg.Client.MaxFrameWidth, cfg.Client.MaxFrameHeight)
	prod := producer.New(log, sess, enc)
	dash := dashboard.New(log, sess, prod, cmd.OutOrStdout())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if flags.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := dash.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("dashboard stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		_ = prod.Run(ctx, src, cfg.Client.FPS)
	}()

	if err := dash.SetInterval(cfg.Client.Interval); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	if flags.interactive {
		err = runCommands(ctx, cancel, dash, cfg.Client, cmd.InOrStdin(), cmd.OutOrStdout())
	} else {
		err = autoStream(ctx, dash, cfg.Client)
	}

	dash.Disconnect()
	cancel()
	wg.Wait()

	st := prod.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "\nframes captured=%d sent=%d throttled=%d dropped=%d\n",
		st.Captured, st.Sent, st.Throttled, st.Dropped)
	return err
}

func autoStream(ctx context.Context, dash *dashboard.Dashboard, c config.ClientConfig) error {
	if err := dash.Connect(ctx, c.ServerAddress, c.ServerPort); err != nil {
		return err
	}
	if err := dash.StartRecording(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

const commandHelp = `commands: connect | start | stop | interval <n> | disconnect | quit`

// runCommands drives the dashboard from line oriented input until quit,
// end of input or ctx is done.
func runCommands(ctx context.Context, cancel context.CancelFunc, dash *dashboard.Dashboard, c config.ClientConfig, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, commandHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}

			var err error
			switch fields[0] {
			case "connect":
				err = dash.Connect(ctx, c.ServerAddress, c.ServerPort)
			case "start":
				err = dash.StartRecording()
			case "stop":
				dash.StopRecording()
			case "interval":
				if len(fields) != 2 {
					err = fmt.Errorf("usage: interval <n>")
					break
				}
				var n int
				if n, err = strconv.Atoi(fields[1]); err == nil {
					err = dash.SetInterval(n)
				}
			case "disconnect":
				dash.Disconnect()
			case "quit", "exit":
				cancel()
				return nil
			default:
				err = fmt.Errorf("unknown command %q, %s", fields[0], commandHelp)
			}
			if err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		}
	}
}

func frameSource(c config.ClientConfig) (producer.Source, error) {
	switch {
	case c.YUVFile != "":
		w, h, err := producer.ParseFrameSize(c.YUVSize)
		if err != nil {
			return nil, err
		}
		return producer.NewRawYUVSource(c.YUVFile, w, h)
	case c.FrameDir != "":
		return producer.NewDirSource(c.FrameDir)
	default:
		return producer.NewPatternSource(640, 480), nil
	}
}

func runHealth(cmd *cobra.Command) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	target, err := healthURL(cfg.Client.ServerAddress, cfg.Client.ServerPort)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server reported status %d", resp.StatusCode)
	}
	return nil
}

// healthURL derives the REST health endpoint from the WebSocket address.
func healthURL(address string, port int) (string, error) {
	wsURL, err := session.ResolveURL(address, port)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/api/health/"
	u.RawQuery = ""
	return u.String(), nil
}
