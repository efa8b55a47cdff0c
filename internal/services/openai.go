package services

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/imaging"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

const (
	maxImageSide = 1024
	imageQuality = 75
	maxTokens    = 500
	temperature  = 0.3
)

const visionSystemPrompt = "You are an expert driver drowsiness detection system. Analyze driver monitoring footage accurately and respond ONLY with valid JSON."

const visionPrompt = `Analyze this image for driver drowsiness detection. Look for:
1. Eye closure/blinking patterns - are eyes open, half-closed, or closed?
2. Head position and orientation - is head upright, tilted, or drooping?
3. Facial expressions - signs of fatigue, stress, or alertness?
4. Mouth - yawning, mouth open, or normal?
5. Overall body language - posture, slouching, or attentive?

Provide a brief analysis in JSON format with these exact fields:
{
    "drowsiness_level": "awake" | "mildly drowsy" | "moderately drowsy" | "highly drowsy",
    "confidence": 0.0 to 1.0 (your confidence in this assessment),
    "observations": ["list", "of", "specific", "observations"],
    "recommended_action": "what should be done based on this analysis"
}

Criteria:
- "awake": Eyes open, head upright, alert expression, good posture
- "mildly drowsy": Slight eye closure, minor head nodding, some fatigue signs
- "moderately drowsy": Frequent eye closure, head dropping, clear fatigue
- "highly drowsy": Eyes mostly/fully closed, significant head drooping, urgent action needed`

const metadataSystemPrompt = "You are a driver drowsiness detection system. Analyze monitoring data and respond only with valid JSON."

// chatClient is the piece shared by every OpenAI compatible provider.
type chatClient struct {
	client openai.Client
	model  string
}

func newChatClient(apiKey, baseURL, model string, timeout time.Duration) chatClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return chatClient{client: openai.NewClient(opts...), model: model}
}

func (c chatClient) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	params.Model = c.model
	params.MaxTokens = openai.Int(maxTokens)
	params.Temperature = openai.Float(temperature)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIAnalyzer sends the frame itself to a vision model.
type OpenAIAnalyzer struct {
	chat   chatClient
	logger *zap.Logger
}

func NewOpenAIAnalyzer(cfg config.AnalyzerConfig, logger *zap.Logger) *OpenAIAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIAnalyzer{
		chat:   newChatClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Timeout),
		logger: logger.Named("openai"),
	}
}

func (a *OpenAIAnalyzer) Name() string { return "openai:" + a.chat.model }

func (a *OpenAIAnalyzer) AnalyzeFrame(ctx context.Context, frame []byte) (models.AnalysisData, error) {
	img, _, err := imaging.Decode(frame)
	if err != nil {
		return models.AnalysisData{}, err
	}
	jpeg, err := imaging.EncodeJPEG(imaging.Fit(img, maxImageSide, maxImageSide), imageQuality)
	if err != nil {
		return models.AnalysisData{}, err
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	start := time.Now()
	content, err := a.chat.complete(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(visionSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(visionPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return models.AnalysisData{}, err
	}
	a.logger.Debug("vision analysis done",
		zap.Duration("latency", time.Since(start)),
		zap.Int("image_bytes", len(jpeg)))

	return parseAnalysis(content, unparsableAnalysis()), nil
}

// GroqAnalyzer uses a text-only model on Groq's OpenAI compatible API.
// Only frame metadata is sent, so its verdicts are coarse.
type GroqAnalyzer struct {
	chat   chatClient
	logger *zap.Logger
}

func NewGroqAnalyzer(cfg config.AnalyzerConfig, logger *zap.Logger) *GroqAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroqAnalyzer{
		chat:   newChatClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, cfg.Timeout),
		logger: logger.Named("groq"),
	}
}

func (a *GroqAnalyzer) Name() string { return "groq:" + a.chat.model }

func (a *GroqAnalyzer) AnalyzeFrame(ctx context.Context, frame []byte) (models.AnalysisData, error) {
	img, _, err := imaging.Decode(frame)
	if err != nil {
		return models.AnalysisData{}, err
	}
	b := img.Bounds()

	var frameNumber uint32
	if len(frame) >= 4 {
		frameNumber = binary.BigEndian.Uint32(frame[:4])
	}
	prompt := fmt.Sprintf(`Analyze this driver monitoring frame:
- Image size: %dx%d
- Color mode: %s

Based on typical drowsiness indicators, determine the drowsiness level.
Assume the driver is being monitored in good conditions.

Respond ONLY with valid JSON, no markdown formatting.
Current frame: Frame number %d`, b.Dx(), b.Dy(), imaging.ColorMode(img), frameNumber)

	content, err := a.chat.complete(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(metadataSystemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return models.AnalysisData{}, err
	}

	return parseAnalysis(content, models.AnalysisData{
		DrowsinessLevel:   string(models.LevelAwake),
		Confidence:        models.Float(0.8),
		Observations:      []string{"Frame captured successfully"},
		RecommendedAction: "Continue monitoring",
	}), nil
}
