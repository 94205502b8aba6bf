package ocpp

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// MessageLog persists raw frames.
type MessageLog interface {
	Save(ctx context.Context, stationID, direction, action string, payload []byte) error
}

// ConfirmationHandler receives answers to CALLs sent by the CSMS.
type ConfirmationHandler interface {
	HandleCallResult(stationID, messageID string, payload json.RawMessage)
	HandleCallError(stationID, messageID, code, description string, details json.RawMessage)
}

// Result is what the transport writes back for one inbound frame. Response is nil for
// confirmations. After, when set, runs once Response has been queued.
type Result struct {
	Response []byte
	After    func(ctx context.Context)
}

// Processor ties together parsing, routing, and response encoding.
type Processor struct {
	parser   *Parser
	router   *Router
	confirms ConfirmationHandler
	logger   *zap.Logger
	logRepo  MessageLog
}

// NewProcessor builds Processor. logRepo may be nil.
func NewProcessor(parser *Parser, router *Router, confirms ConfirmationHandler, logRepo MessageLog, logger *zap.Logger) *Processor {
	return &Processor{
		parser:   parser,
		router:   router,
		confirms: confirms,
		logRepo:  logRepo,
		logger:   logger,
	}
}

// Process handles raw message and returns the frame to send back. Every CALL gets an
// answer: handler and decode failures become CALLERROR frames.
func (p *Processor) Process(ctx context.Context, stationID string, raw []byte) (Result, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		var frameErr *FrameError
		if errors.As(err, &frameErr) && frameErr.UniqueID != "" {
			p.logger.Warn("malformed ocpp frame", zap.String("station_id", stationID), zap.Error(err))
			resp, buildErr := BuildCallError(frameErr.UniqueID, protocol.ErrorFormationViolation, err.Error())
			if buildErr != nil {
				return Result{}, buildErr
			}
			return Result{Response: resp}, nil
		}
		return Result{}, err
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		p.save(ctx, stationID, "incoming", "CallResult", raw)
		p.confirms.HandleCallResult(stationID, msg.UniqueID, msg.Payload)
		return Result{}, nil
	case protocol.MessageTypeCallError:
		p.save(ctx, stationID, "incoming", "CallError", raw)
		p.confirms.HandleCallError(stationID, msg.UniqueID, msg.ErrorCode, msg.ErrorDescription, msg.ErrorDetails)
		return Result{}, nil
	}

	p.save(ctx, stationID, "incoming", msg.Action, raw)

	responsePayload, err := p.router.Route(ctx, stationID, msg)
	if err != nil {
		code := protocol.ErrorInternalError
		var callErr *CallError
		if errors.As(err, &callErr) {
			code = callErr.Code
		}
		p.logger.Warn("ocpp handler failed",
			zap.String("station_id", stationID),
			zap.String("action", msg.Action),
			zap.String("code", code),
			zap.Error(err),
		)
		resp, buildErr := BuildCallError(msg.UniqueID, code, err.Error())
		if buildErr != nil {
			return Result{}, buildErr
		}
		p.save(ctx, stationID, "outgoing", msg.Action, resp)
		return Result{Response: resp}, nil
	}

	var after func(context.Context)
	if reply, ok := responsePayload.(Reply); ok {
		responsePayload = reply.Payload
		after = reply.After
	}
	if responsePayload == nil {
		responsePayload = struct{}{}
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.String("action", msg.Action), zap.Error(err))
		resp, buildErr := BuildCallError(msg.UniqueID, protocol.ErrorInternalError, "encode response failed")
		if buildErr != nil {
			return Result{}, buildErr
		}
		return Result{Response: resp}, nil
	}

	p.save(ctx, stationID, "outgoing", msg.Action, respBytes)

	return Result{Response: respBytes, After: after}, nil
}

func (p *Processor) save(ctx context.Context, stationID, direction, action string, payload []byte) {
	if p.logRepo == nil {
		return
	}
	if err := p.logRepo.Save(ctx, stationID, direction, action, payload); err != nil {
		p.logger.Debug("ocpp message log failed", zap.String("station_id", stationID), zap.Error(err))
	}
}
