package control

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/reelpipe/internal/encoder"
	"github.com/jmylchreest/reelpipe/internal/pipeline"
)

// Run is the part of a pipeline the control API drives.
type Run interface {
	Status() pipeline.Status
	Pause()
	Resume()
	Paused() bool
	Stop()
}

// Handler serves the run control operations.
type Handler struct {
	run       Run
	version   string
	startTime time.Time
}

// NewHandler creates a handler for run.
func NewHandler(run Run, version string) *Handler {
	return &Handler{run: run, version: version, startTime: time.Now()}
}

// StatusInput is the input for the status endpoint.
type StatusInput struct{}

// StatusResponse is the status body.
type StatusResponse struct {
	Version string          `json:"version"`
	Uptime  string          `json:"uptime"`
	Run     pipeline.Status `json:"run"`
}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body StatusResponse
}

// ActionInput is the input for pause, resume and stop.
type ActionInput struct{}

// ActionResponse reports the encode loop after an action.
type ActionResponse struct {
	Action string `json:"action"`
	State  string `json:"state"`
	Paused bool   `json:"paused"`
}

// ActionOutput is the output for pause, resume and stop.
type ActionOutput struct {
	Body ActionResponse
}

// Register registers the control routes with the API.
func (h *Handler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Run status",
		Description: "Returns the encode loop counters, import loop state and registry occupancy",
		Tags:        []string{"Run"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "pauseRun",
		Method:        http.MethodPost,
		Path:          "/api/v1/pause",
		Summary:       "Pause encoding",
		Description:   "Suspends the encode loop at the next frame boundary",
		Tags:          []string{"Run"},
		DefaultStatus: http.StatusAccepted,
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID:   "resumeRun",
		Method:        http.MethodPost,
		Path:          "/api/v1/resume",
		Summary:       "Resume encoding",
		Tags:          []string{"Run"},
		DefaultStatus: http.StatusAccepted,
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID:   "stopRun",
		Method:        http.MethodPost,
		Path:          "/api/v1/stop",
		Summary:       "Stop the run",
		Description:   "Stops the run at the next frame boundary and closes the output",
		Tags:          []string{"Run"},
		DefaultStatus: http.StatusAccepted,
	}, h.Stop)
}

// GetStatus returns the run status.
func (h *Handler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	return &StatusOutput{
		Body: StatusResponse{
			Version: h.version,
			Uptime:  time.Since(h.startTime).Round(time.Second).String(),
			Run:     h.run.Status(),
		},
	}, nil
}

// Pause suspends encoding.
func (h *Handler) Pause(ctx context.Context, input *ActionInput) (*ActionOutput, error) {
	return h.act("pause", h.run.Pause)
}

// Resume releases a paused run.
func (h *Handler) Resume(ctx context.Context, input *ActionInput) (*ActionOutput, error) {
	return h.act("resume", h.run.Resume)
}

// Stop ends the run.
func (h *Handler) Stop(ctx context.Context, input *ActionInput) (*ActionOutput, error) {
	return h.act("stop", h.run.Stop)
}

func (h *Handler) act(action string, fn func()) (*ActionOutput, error) {
	state := h.run.Status().Encoder.State
	if finished(state) {
		return nil, huma.Error409Conflict("run already " + state)
	}
	fn()
	return &ActionOutput{
		Body: ActionResponse{Action: action, State: h.run.Status().Encoder.State, Paused: h.run.Paused()},
	}, nil
}

func finished(state string) bool {
	switch state {
	case encoder.StateDone.String(), encoder.StateError.String(), encoder.StateStopping.String():
		return true
	default:
		return false
	}
}
