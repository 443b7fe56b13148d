package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/engine"
	apperrors "github.com/pillpal/pillpald/internal/errors"
	"github.com/pillpal/pillpald/internal/timeutil"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":       "healthy",
		"version":      "0.1.0",
		"timestamp":    time.Now().Unix(),
		"lastEvalUnix": s.app.LastEvaluatedAt().Unix(),
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "default",
		"jti": uuid.NewString(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(7 * 24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": tokenString})
}

// ==================== Alerts ====================

func (s *Server) handleAlertFeed(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"alerts":          s.app.Alerts(),
		"lastEvaluatedAt": s.app.LastEvaluatedAt(),
	})
}

func (s *Server) handleAck(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.app.Acknowledge(c.Context(), id); err != nil {
		if apperrors.GetCode(err) == "ALERT_001" {
			return c.Status(404).JSON(fiber.Map{"error": "alert not found"})
		}
		s.logger.Error("ack failed", zap.String("alert_id", id), zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to acknowledge alert"})
	}
	return c.JSON(fiber.Map{"acknowledged": id})
}

func (s *Server) handleAckAll(c *fiber.Ctx) error {
	n := s.app.AcknowledgeAll(c.Context())
	return c.JSON(fiber.Map{"acknowledged": n})
}

// ==================== Risk ====================

func (s *Server) handleRiskToday(c *fiber.Ctx) error {
	return c.JSON(s.app.Risk())
}

func (s *Server) handleRiskInsights(c *fiber.Ctx) error {
	insights, err := s.app.Insights(c.Context())
	if err != nil {
		s.logger.Warn("insights fetch failed", zap.Error(err))
		return c.Status(502).JSON(fiber.Map{"error": "insights unavailable"})
	}
	return c.JSON(fiber.Map{"insights": insights})
}

// ==================== Doses ====================

// doseView is a dose with its derived overdue minutes; zero unless the dose
// is pending and past due.
type doseView struct {
	engine.Dose
	OverdueMinutes int `json:"overdue_minutes,omitempty"`
}

func (s *Server) handleDosesToday(c *fiber.Ctx) error {
	now := time.Now()
	doses := s.app.TodayDoses()
	views := make([]doseView, len(doses))
	for i, d := range doses {
		views[i] = doseView{Dose: d}
		if d.Status == engine.DosePending && d.ScheduledAt.Before(now) {
			views[i].OverdueMinutes = timeutil.OverdueMinutes(d.ScheduledAt, now)
		}
	}
	return c.JSON(fiber.Map{"doses": views})
}

func (s *Server) handleNextDose(c *fiber.Ctx) error {
	next := s.app.NextDose()
	if next == nil {
		return c.JSON(fiber.Map{"nextDose": nil})
	}
	return c.JSON(fiber.Map{"nextDose": next})
}

// ==================== Supporting Data ====================

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	meds, err := s.store.ListMedications()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list medications"})
	}
	return c.JSON(fiber.Map{"medications": meds})
}

func (s *Server) handleRecentNotifications(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	recs, err := s.store.RecentNotifications(limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to list notifications"})
	}
	return c.JSON(fiber.Map{"notifications": recs})
}

func (s *Server) handleRefresh(c *fiber.Ctx) error {
	s.app.Evaluate(c.Context())
	return c.JSON(fiber.Map{
		"alerts":          s.app.Alerts(),
		"risk":            s.app.Risk(),
		"lastEvaluatedAt": s.app.LastEvaluatedAt(),
	})
}

// ==================== WebSocket ====================

// handleWebSocket streams the full alert list after every evaluation pass.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()

	ch := s.app.Subscribe()
	defer s.app.Unsubscribe(ch)

	// Send the current feed immediately so the client need not wait a pass.
	if err := c.WriteJSON(fiber.Map{"type": "alerts", "alerts": s.app.Alerts()}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case alerts, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(fiber.Map{"type": "alerts", "alerts": alerts}); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
