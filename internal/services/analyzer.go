package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

// Analyzer classifies one JPEG frame.
type Analyzer interface {
	AnalyzeFrame(ctx context.Context, frame []byte) (models.AnalysisData, error)
	Name() string
}

// NewAnalyzer builds the analyzer selected by cfg.Provider.
func NewAnalyzer(cfg config.AnalyzerConfig, logger *zap.Logger) (Analyzer, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not found in environment variables")
		}
		return NewOpenAIAnalyzer(cfg, logger), nil
	case "groq":
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY not found in environment variables")
		}
		return NewGroqAnalyzer(cfg, logger), nil
	case "grpc":
		a, err := NewGRPCAnalyzer(cfg.GRPCAddress, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider %q", cfg.Provider)
	}
}

// FailedAnalysis is the result reported to the client when analysing a
// frame fails.
func FailedAnalysis(err error) models.AnalysisData {
	return models.AnalysisData{
		DrowsinessLevel:   string(models.LevelUnknown),
		Confidence:        models.Float(0),
		Observations:      []string{"Analysis failed: " + err.Error()},
		RecommendedAction: "Check API connection and try again",
		Error:             models.String(err.Error()),
	}
}

func unparsableAnalysis() models.AnalysisData {
	return models.AnalysisData{
		DrowsinessLevel:   string(models.LevelUnknown),
		Confidence:        models.Float(0),
		Observations:      []string{"Failed to parse analysis"},
		RecommendedAction: "Manual review required",
	}
}

// parseAnalysis decodes a model reply. Markdown fences are stripped and,
// if the reply is not plain JSON, the outermost {...} span is tried
// before giving up with fallback.
func parseAnalysis(content string, fallback models.AnalysisData) models.AnalysisData {
	content = stripFences(strings.TrimSpace(content))

	if gjson.Valid(content) {
		if data, ok := decodeAnalysis(content); ok {
			return data
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		candidate := content[start : end+1]
		if gjson.Valid(candidate) {
			if data, ok := decodeAnalysis(candidate); ok {
				return data
			}
		}
	}
	return fallback
}

func decodeAnalysis(raw string) (models.AnalysisData, bool) {
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return models.AnalysisData{}, false
	}

	data := models.AnalysisData{
		DrowsinessLevel:   doc.Get("drowsiness_level").String(),
		RecommendedAction: doc.Get("recommended_action").String(),
	}
	if c := doc.Get("confidence"); c.Exists() {
		data.Confidence = models.Float(c.Float())
	}
	for _, o := range doc.Get("observations").Array() {
		data.Observations = append(data.Observations, o.String())
	}
	if e := doc.Get("error"); e.Exists() {
		data.Error = models.String(e.String())
	}
	return data, true
}

func stripFences(s string) string {
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
