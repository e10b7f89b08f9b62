// internal/server/tools.go
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"mcp-calorie-log/internal/models"
	"mcp-calorie-log/internal/pipeline"
)

type LogMealParams struct {
	UserID      string `json:"user_id" description:"Stable identifier of the person"`
	UserName    string `json:"user_name,omitempty" description:"Chat handle of the person, used to address them"`
	Text        string `json:"text,omitempty" description:"Meal description or photo caption"`
	ImageBase64 string `json:"image_base64,omitempty" description:"Base64-encoded photo of the meal"`
	Timestamp   string `json:"timestamp,omitempty" description:"ISO timestamp of when meal was eaten (defaults to now)"`
}

type UserParams struct {
	UserID string `json:"user_id" description:"Stable identifier of the person"`
}

type ResetDayParams struct {
	UserID string `json:"user_id" description:"Stable identifier of the person"`
	Date   string `json:"date,omitempty" description:"Day to clear (YYYY-MM-DD, defaults to today)"`
}

// ToolResponse is the JSON carried in the text content of every result.
type ToolResponse struct {
	Reply    string `json:"reply"`
	State    string `json:"state,omitempty"`
	Calories *int   `json:"calories,omitempty"`
	Special  bool   `json:"special,omitempty"`
}

type invalidParamsError struct{ msg string }

func (e *invalidParamsError) Error() string { return e.msg }

func invalidParams(format string, args ...interface{}) error {
	return &invalidParamsError{msg: fmt.Sprintf(format, args...)}
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	// Convert the Arguments map to JSON bytes, then unmarshal to target
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return invalidParams("failed to marshal arguments: %v", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return invalidParams("invalid parameters: %v", err)
	}

	return nil
}

func userID(req *protocol.CallToolRequest) (string, error) {
	var params UserParams
	if err := extractParams(req, &params); err != nil {
		return "", err
	}
	if strings.TrimSpace(params.UserID) == "" {
		return "", invalidParams("user_id is required")
	}
	return params.UserID, nil
}

// handleLogMeal runs an inbound text or photo through the meal pipeline
func (s *CalorieLogServer) handleLogMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.UserID) == "" {
		return nil, invalidParams("user_id is required")
	}

	ev := pipeline.Event{UserID: params.UserID, UserName: params.UserName, Kind: pipeline.KindText, Text: params.Text}

	if params.ImageBase64 != "" {
		image, err := base64.StdEncoding.DecodeString(params.ImageBase64)
		if err != nil {
			return nil, invalidParams("invalid image_base64: %v", err)
		}
		ev.Kind = pipeline.KindImage
		ev.Image = image
	}

	if params.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, params.Timestamp)
		if err != nil {
			return nil, invalidParams("invalid timestamp format: %v", err)
		}
		ev.Timestamp = ts
	}

	res, err := s.pipeline.HandleMeal(ctx, ev)
	if err != nil {
		return nil, err
	}

	out := ToolResponse{Reply: res.Reply, State: string(res.State), Special: res.Special}
	if res.Record != nil {
		calories := res.Record.Calories
		out.Calories = &calories
	}
	return s.createJSONResponse(out)
}

func (s *CalorieLogServer) handleResetDay(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ResetDayParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.UserID) == "" {
		return nil, invalidParams("user_id is required")
	}

	var day time.Time
	if params.Date != "" {
		var err error
		// Midnight of the date in the ledger's own zone.
		day, err = time.ParseInLocation(models.DayLayout, params.Date, s.pipeline.Location())
		if err != nil {
			return nil, invalidParams("invalid date format: %v", err)
		}
	}

	reply, err := s.pipeline.ResetDay(ctx, params.UserID, day)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(ToolResponse{Reply: reply})
}

// userCommand adapts a per-user pipeline command into a tool handler.
func (s *CalorieLogServer) userCommand(cmd func(ctx context.Context, userID string) (string, error)) toolHandler {
	return func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
		id, err := userID(req)
		if err != nil {
			return nil, err
		}
		reply, err := cmd(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.createJSONResponse(ToolResponse{Reply: reply})
	}
}

func (s *CalorieLogServer) handleStart(_ context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	return s.createJSONResponse(ToolResponse{Reply: s.pipeline.Start()})
}

func (s *CalorieLogServer) handleServerInfo(_ context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	return s.createJSONResponse(s.info)
}

func (s *CalorieLogServer) registerTools() {
	s.tools = map[string]toolHandler{
		"log_meal":    s.handleLogMeal,
		"today":       s.userCommand(s.pipeline.Today),
		"week":        s.userCommand(s.pipeline.Week),
		"delete_last": s.userCommand(s.pipeline.DeleteLast),
		"fix_last":    s.userCommand(s.pipeline.ArmFix),
		"reset_day":   s.handleResetDay,
		"pause":       s.userCommand(s.pipeline.Pause),
		"resume":      s.userCommand(s.pipeline.Resume),
		"start":       s.handleStart,
		"server_info": s.handleServerInfo,
	}

	for name := range s.tools {
		s.log.WithField("tool", name).Debug("registered tool")
	}
}
