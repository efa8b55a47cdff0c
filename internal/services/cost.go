package services

import (
	"fmt"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

// Rough per-frame token usage and GPT-4o list prices per million tokens.
const (
	inputTokensPerFrame   = 500
	outputTokensPerFrame  = 100
	inputPricePerMillion  = 5.00
	outputPricePerMillion = 15.00
)

// EstimateCost estimates the vision API spend for analysing frames.
func EstimateCost(frames int) models.CostEstimate {
	if frames < 0 {
		frames = 0
	}
	input := float64(frames*inputTokensPerFrame) / 1_000_000 * inputPricePerMillion
	output := float64(frames*outputTokensPerFrame) / 1_000_000 * outputPricePerMillion

	return models.CostEstimate{
		Frames:              frames,
		EstimatedInputCost:  fmt.Sprintf("$%.4f", input),
		EstimatedOutputCost: fmt.Sprintf("$%.4f", output),
		EstimatedTotalCost:  fmt.Sprintf("$%.4f", input+output),
		Notes:               "Actual costs may vary based on image size and response length",
	}
}
