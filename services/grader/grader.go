package gradersvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/quiz"
)

// httpService grades free-text answers against an external scoring API.
// Errors are returned as-is; the quiz engine treats them as "no feedback
// available" and never fails a submission on them.
type httpService struct {
	url    string
	apiKey string
	client *http.Client
	logger core.Logger
}

var _ quiz.Grader = (*httpService)(nil)

func NewHTTPService(conf *core.Config, logger core.Logger) quiz.Grader {
	return &httpService{
		url:    conf.Grader.URL,
		apiKey: conf.Grader.APIKey,
		client: &http.Client{Timeout: conf.Grader.Timeout},
		logger: logger,
	}
}

type (
	gradeRequest struct {
		Prompt    string  `json:"prompt"`
		Answer    string  `json:"answer"`
		MaxPoints float64 `json:"max_points"`
	}

	gradeResponse struct {
		Points   float64 `json:"points"`
		Feedback string  `json:"feedback"`
	}
)

func (svc *httpService) GradeFreeText(ctx context.Context, prompt, answer string, maxPoints float64) (float64, string, error) {
	payload, err := json.Marshal(gradeRequest{Prompt: prompt, Answer: answer, MaxPoints: maxPoints})
	if err != nil {
		return 0, "", errors.Wrap(err, "encoding grade request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", errors.Wrap(err, "building grade request")
	}
	req.Header.Set("Content-Type", "application/json")
	if svc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+svc.apiKey)
	}

	res, err := svc.client.Do(req)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("grading request failed: %v", err), err)
		return 0, "", errors.Wrap(err, "calling grader")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		err = errors.Errorf("grader returned status %d", res.StatusCode)
		svc.logger.Warn(err.Error(), err)
		return 0, "", err
	}

	var gr gradeResponse
	if err = json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return 0, "", errors.Wrap(err, "decoding grade response")
	}
	return gr.Points, gr.Feedback, nil
}

// staticService awards full credit to any non-empty answer. It stands in for
// the external grader in dev environments with no grader URL configured.
type staticService struct{}

var _ quiz.Grader = (*staticService)(nil)

func NewStaticService() quiz.Grader {
	return &staticService{}
}

func (staticService) GradeFreeText(_ context.Context, _, answer string, maxPoints float64) (float64, string, error) {
	if answer == "" {
		return 0, "No answer was provided.", nil
	}
	return maxPoints, "Answer recorded; full credit pending teacher review.", nil
}
