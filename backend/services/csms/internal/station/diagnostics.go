package station

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// DiagnosticsOptions narrows a diagnostics upload. Zero values are left to the station.
type DiagnosticsOptions struct {
	Retries       *int
	RetryInterval *int
	StartTime     *time.Time
	StopTime      *time.Time
}

// DiagnosticsOutcome is a GetDiagnostics confirmation. FileName is empty when the station
// has nothing to upload.
type DiagnosticsOutcome struct {
	CommandOutcome
	FileName string `json:"fileName,omitempty"`
}

// GetDiagnostics asks the station to upload its diagnostics file to location. The upload
// itself is reported later through DiagnosticsStatusNotification.
func (s *Session) GetDiagnostics(ctx context.Context, location string, opts DiagnosticsOptions) (DiagnosticsOutcome, error) {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return DiagnosticsOutcome{}, fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	if opts.StartTime != nil && opts.StopTime != nil && opts.StopTime.Before(*opts.StartTime) {
		return DiagnosticsOutcome{}, ErrInvalidTimeWindow
	}
	if err := s.ensureOnline(); err != nil {
		return DiagnosticsOutcome{}, err
	}

	req := protocol.GetDiagnosticsRequest{
		Location:      location,
		Retries:       opts.Retries,
		RetryInterval: opts.RetryInterval,
		StartTime:     dateTimePtr(opts.StartTime),
		StopTime:      dateTimePtr(opts.StopTime),
	}
	res, err := s.commander.Execute(ctx, s.id, protocol.ActionGetDiagnostics, req, nil)
	out := DiagnosticsOutcome{CommandOutcome: outcomeOf(res)}
	if err != nil {
		return out, err
	}
	if out.Accepted && out.Status == "" {
		out.Status = protocol.StatusAccepted
	}
	if len(res.Payload) > 0 {
		var resp protocol.GetDiagnosticsResponse
		if err := json.Unmarshal(res.Payload, &resp); err != nil {
			return out, fmt.Errorf("decode diagnostics: %w", err)
		}
		out.FileName = resp.FileName
	}
	s.logger.Info("diagnostics requested", zap.String("location", u.Redacted()), zap.String("file_name", out.FileName))
	return out, nil
}

// OnDiagnosticsStatus records the progress of an upload started by GetDiagnostics.
func (s *Session) OnDiagnosticsStatus(req protocol.DiagnosticsStatusNotificationRequest) protocol.DiagnosticsStatusNotificationResponse {
	now := s.touch()
	s.mu.Lock()
	s.diagnostics = req.Status
	s.mu.Unlock()

	s.logger.Info("diagnostics status", zap.String("status", req.Status))
	s.publish(Event{Type: EventDiagnosticsStatus, Status: req.Status, Timestamp: now})
	return protocol.DiagnosticsStatusNotificationResponse{}
}

func dateTimePtr(t *time.Time) *protocol.DateTime {
	if t == nil {
		return nil
	}
	dt := protocol.NewDateTime(*t)
	return &dt
}
