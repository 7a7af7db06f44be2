package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/lawnchairsociety/rpsbalance/internal/config"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// lambdaDeadlineMargin is kept free before the invocation deadline to
// encode and return the response.
const lambdaDeadlineMargin = 2 * time.Second

var jsonHeader = map[string]string{
	"Content-Type": "application/json",
}

// LambdaHandler is a function URL handler for one-shot searches.
type LambdaHandler func(ctx context.Context, event events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error)

// NewLambdaHandler serves the search request format over a Lambda function
// URL. GET reports health; POST runs one search and returns its result
// message. Runs are not archived.
func NewLambdaHandler(cfg *config.Config) LambdaHandler {
	return func(ctx context.Context, event events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
		if event.RequestContext.HTTP.Method == http.MethodGet {
			return jsonResp(http.StatusOK, map[string]string{"status": "ok"})
		}

		body := event.Body
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return errResp(http.StatusBadRequest, errors.New("invalid base64 body"))
			}
			body = string(decoded)
		}

		req, err := ParseRequest(cfg, []byte(body))
		if err != nil {
			return errResp(http.StatusBadRequest, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline) - lambdaDeadlineMargin
			if remaining <= 0 {
				return errResp(http.StatusGatewayTimeout, errors.New("no time left to search"))
			}
			if req.TimeLimit == 0 || req.TimeLimit > remaining {
				req.TimeLimit = remaining
			}
		}

		result, err := search.Run(ctx, req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, search.ErrInvalidConfig) {
				status = http.StatusBadRequest
			}
			return errResp(status, err)
		}

		logger.Info("Lambda search finished", "mode", result.Mode, "evaluated", result.Evaluated,
			"discovered", len(result.Discoveries), "stop_reason", result.StopReason)
		return jsonResp(http.StatusOK, NewResultMessage(result, 0))
	}
}

func jsonResp(code int, v any) (events.LambdaFunctionURLResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return events.LambdaFunctionURLResponse{}, err
	}
	return events.LambdaFunctionURLResponse{StatusCode: code, Headers: jsonHeader, Body: string(body)}, nil
}

func errResp(code int, err error) (events.LambdaFunctionURLResponse, error) {
	return jsonResp(code, NewErrorMessage(err))
}
