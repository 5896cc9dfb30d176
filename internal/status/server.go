// Package status serves a small read-only HTTP view of the daemon: health,
// scheduled jobs, and the ledger.
package status

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/schedule"
	"go.uber.org/zap"
)

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Store  ledger.Store
	Jobs   func() []schedule.JobStatus // optional
	Port   int
	Logger *zap.Logger
	Now    func() time.Time // defaults to time.Now
}

// PendingView is one pending entry as shown by /ledger.
type PendingView struct {
	User    string    `json:"user"`
	Round   string    `json:"round,omitempty"`
	AskedAt time.Time `json:"asked_at"`
	Age     string    `json:"age,omitempty"`
}

// LedgerView is the /ledger response body.
type LedgerView struct {
	Revision        int64                  `json:"revision"`
	Pending         []PendingView          `json:"pending"`
	LastPickedUsers []string               `json:"last_picked_users"`
	DailyThreads    []ledger.DailyThreadRef `json:"daily_threads"`
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("status server listening", zap.Int("port", opts.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine serving the status routes.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("status: store is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/jobs", func(c *gin.Context) {
		if opts.Jobs == nil {
			c.JSON(http.StatusOK, []schedule.JobStatus{})
			return
		}
		c.JSON(http.StatusOK, opts.Jobs())
	})

	router.GET("/ledger", func(c *gin.Context) {
		l, err := opts.Store.Load(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, NewLedgerView(l, now()))
	})

	return router, nil
}

// NewLedgerView summarises l for display. Question text and DM ids are
// left out; daily threads are sorted by day.
func NewLedgerView(l *ledger.Ledger, now time.Time) LedgerView {
	v := LedgerView{
		Revision:        l.Revision,
		Pending:         make([]PendingView, 0, len(l.Pending)),
		LastPickedUsers: append([]string{}, l.LastPickedUsers...),
		DailyThreads:    make([]ledger.DailyThreadRef, 0, len(l.DailyThreads)),
	}
	for _, e := range l.Pending {
		pv := PendingView{User: e.User, Round: e.Round, AskedAt: e.AskedAt}
		if !e.AskedAt.IsZero() {
			pv.Age = now.Sub(e.AskedAt).Truncate(time.Minute).String()
		}
		v.Pending = append(v.Pending, pv)
	}
	for _, ref := range l.DailyThreads {
		v.DailyThreads = append(v.DailyThreads, ref)
	}
	sort.Slice(v.DailyThreads, func(i, j int) bool { return v.DailyThreads[i].Day < v.DailyThreads[j].Day })
	return v
}
