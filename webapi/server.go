package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"orbit/core"
	"orbit/lib/sl"
	"orbit/storage"
)

var planLabels = map[string]string{
	storage.PlanFree:  "Free",
	storage.PlanBasic: "Basic",
	storage.PlanPro:   "Pro",
	// Legacy ultra accounts show as Pro.
	storage.PlanUltra: "Pro",
}

// Server is the read-only HTTP API consumed by the companion mini-app.
// It only reads the ledger; all mutations happen through the bot.
type Server struct {
	conf   *core.Config
	ledger storage.AccountStorage
	log    *slog.Logger
	srv    *http.Server
}

func NewServer(conf *core.Config, ledger storage.AccountStorage, log *slog.Logger) *Server {
	return &Server{
		conf:   conf,
		ledger: ledger,
		log:    log.With(sl.Module("webapi")),
	}
}

func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/api/profile", s.profile)

	s.srv = &http.Server{
		Addr:    s.conf.WebApi.Listen,
		Handler: router,
	}
	s.log.Info("web api listening", slog.String("addr", s.conf.WebApi.Listen))

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) profile(c *gin.Context) {
	raw := c.GetHeader("X-Telegram-Init-Data")
	if raw == "" {
		raw = c.Query("init_data")
	}
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "init_data required"})
		return
	}

	userID, err := userIDFromInitData(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "init_data invalid"})
		return
	}

	account, err := s.ledger.GetOrCreateAccount(userID)
	if err != nil {
		s.log.Error("loading account", sl.Chat(userID), sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "storage unavailable"})
		return
	}
	usage, err := s.ledger.ModelUsage(userID)
	if err != nil {
		s.log.Error("loading usage", sl.Chat(userID), sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "storage unavailable"})
		return
	}

	plan := account.Plan
	if plan == "" {
		plan = storage.PlanFree
	}
	label, ok := planLabels[plan]
	if !ok {
		label = plan
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":        userID,
		"plan":           plan,
		"plan_label":     label,
		"credit_balance": account.CreditBalance,
		"usage":          usage,
		"ref_link":       fmt.Sprintf("%s?start=%d", s.conf.WebApi.RefBaseURL, userID),
	})
}

// userIDFromInitData pulls the user id out of the Telegram WebApp init
// data (a query string with a JSON-encoded user field).
func userIDFromInitData(raw string) (int64, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing init data: %w", err)
	}
	userRaw := values.Get("user")
	if userRaw == "" {
		return 0, errors.New("init data has no user")
	}
	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userRaw), &user); err != nil {
		return 0, fmt.Errorf("decoding user: %w", err)
	}
	if user.ID == 0 {
		return 0, errors.New("init data user has no id")
	}
	return user.ID, nil
}
