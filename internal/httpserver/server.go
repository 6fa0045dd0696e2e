package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bugattmark/clashroom/internal/config"
	"github.com/bugattmark/clashroom/internal/debate"
	"github.com/bugattmark/clashroom/internal/llm"
	"github.com/bugattmark/clashroom/internal/phone"
	"github.com/bugattmark/clashroom/internal/rtc"
	"github.com/bugattmark/clashroom/internal/stt"
	"github.com/bugattmark/clashroom/internal/transport"
	"github.com/bugattmark/clashroom/internal/tts"
	"github.com/bugattmark/clashroom/internal/vad"
)

// Server bundles the HTTP router and dependencies.
type Server struct {
	Router http.Handler
}

// New constructs the HTTP server: a health probe, the WebSocket debate
// endpoint, the WebRTC offer endpoint, and (when configured) the Twilio
// webhook surface.
func New(cfg config.Config, store rtc.TranscriptStore) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Auth-Token"},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	s := &sessions{cfg: cfg, store: store}
	auth := requireAuth(cfg.AuthPassword)

	e.GET("/debate", s.handleDebate, auth)
	e.GET("/debate/stream", s.handleDebate, auth)

	offers := rtc.NewHandler(cfg, store)
	e.POST("/offer", s.handleOffer(offers), auth)

	if cfg.TwilioAuthToken != "" {
		phone.New(phone.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		}).RegisterHandlers(e)
	}

	return &Server{Router: e}
}

// rtcAuthOK checks the shared password against the query string, a bearer
// token, or the X-Auth-Token header. Empty expected means auth is off.
func rtcAuthOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if r.URL.Query().Get("password") == expected {
		return true
	}
	if r.Header.Get("X-Auth-Token") == expected {
		return true
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") && authz[7:] == expected {
		return true
	}
	return false
}

func requireAuth(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rtcAuthOK(c.Request(), expected) {
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

type sessions struct {
	cfg   config.Config
	store rtc.TranscriptStore
}

func (s *sessions) synthesizer() debate.Synthesizer {
	if s.cfg.TTSProvider == "elevenlabs" {
		return tts.NewElevenLabsClient(s.cfg.ElevenLabsKey, s.cfg.ElevenLabsVoiceID)
	}
	return tts.NewDeepgramClient(s.cfg.DeepgramKey, s.cfg.DeepgramTTSModel)
}

func (s *sessions) newController(sess *debate.Session, out debate.Transport) *debate.Controller {
	det := vad.New(vad.Config{
		SampleRate: 16000,
		Threshold:  s.cfg.VADThresholdRMS,
		Hangover:   time.Duration(s.cfg.VADHangoverMs) * time.Millisecond,
	})
	return debate.NewController(
		debate.ControllerConfig{
			ResumeInterrupted: s.cfg.ResumeInterruptedAgent,
			TurnTimeout:       time.Duration(s.cfg.TurnTimeoutSec) * time.Second,
		},
		sess,
		det,
		stt.NewClient(s.cfg.AssemblyAIKey),
		llm.NewCerebrasClient(s.cfg.CerebrasKey, s.cfg.CerebrasModelID),
		s.synthesizer(),
		out,
	)
}

// handleDebate runs one full-duplex debate session over a WebSocket.
func (s *sessions) handleDebate(c echo.Context) error {
	ch, err := transport.Upgrade(c.Response(), c.Request())
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return nil
	}
	defer ch.Close()

	sess := debate.NewSession()
	ctrl := s.newController(sess, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if runErr := ctrl.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			log.Printf("[%s] controller stopped: %v", sess.ID, runErr)
		}
	}()

	log.Printf("[%s] debate session connected", sess.ID)
	serveErr := ch.Serve(ctrl)
	cancel()
	log.Printf("[%s] debate session closed: %v", sess.ID, serveErr)

	s.archive(sess)
	return nil
}

func (s *sessions) handleOffer(h *rtc.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			log.Printf("invalid offer: %v", err)
			return c.String(http.StatusBadRequest, "invalid offer")
		}
		answer, err := h.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			log.Printf("webrtc handle offer failed: %v", err)
			if strings.Contains(err.Error(), "invalid offer") {
				return c.String(http.StatusBadRequest, "invalid offer")
			}
			return c.String(http.StatusInternalServerError, "failed to negotiate")
		}
		return c.JSON(http.StatusOK, answer)
	}
}

func (s *sessions) archive(sess *debate.Session) {
	if s.store == nil || len(sess.Transcript()) == 0 {
		return
	}
	data, err := sess.ArchiveJSON()
	if err != nil {
		log.Printf("[%s] archive marshal: %v", sess.ID, err)
		return
	}
	key := fmt.Sprintf("debates/%s.json", sess.ID)
	if err := s.store.Upload(key, "application/json", data); err != nil {
		log.Printf("[%s] archive upload: %v", sess.ID, err)
		return
	}
	log.Printf("[%s] transcript archived: %s", sess.ID, key)
}
