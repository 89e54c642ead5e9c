package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/shibasync/internal/airtable"
	"github.com/goodtune/shibasync/internal/config"
	"github.com/goodtune/shibasync/internal/hackatime"
	"github.com/goodtune/shibasync/internal/metrics"
	"github.com/goodtune/shibasync/internal/retry"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultUserDelay separates activity fetches for consecutive users
	DefaultUserDelay = 200 * time.Millisecond

	// DefaultCacheSize bounds the per-pass activity cache
	DefaultCacheSize = 4096

	targetDatastore = "airtable"
	targetActivity  = "hackatime"
)

// Config holds engine configuration
type Config struct {
	APIKey        string
	BaseID        string
	GamesTable    string
	PostsTable    string
	UsersTable    string
	Fields        config.FieldsConfig
	TrackingStart time.Time
	Location      *time.Location
	UserDelay     time.Duration
	CacheSize     int
}

// Engine runs reconciliation passes.
type Engine struct {
	config   Config
	store    RecordStore
	source   ActivitySource
	executor *retry.Executor
	clock    quartz.Clock
	logger   zerolog.Logger
}

// NewEngine creates a new reconciliation engine
func NewEngine(cfg Config, store RecordStore, source ActivitySource, executor *retry.Executor, clock quartz.Clock, logger zerolog.Logger) *Engine {
	// zero disables the delay; only a negative value falls back to the default
	if cfg.UserDelay < 0 {
		cfg.UserDelay = DefaultUserDelay
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Engine{
		config:   cfg,
		store:    store,
		source:   source,
		executor: executor,
		clock:    clock,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// pass holds the state of one run. Nothing in it outlives the run.
type pass struct {
	summary     *Summary
	logger      zerolog.Logger
	cache       *lru.Cache[string, Outcome]
	failed      map[string]string
	fetched     bool
	gamesByUser map[string][]Game
	posts       PostIndex
	postsLoaded bool
}

// RunPass runs one full pass: days-active for every user, then tracked
// seconds and devlog hours for every game.
func (e *Engine) RunPass(ctx context.Context) (*Summary, error) {
	if e.config.APIKey == "" || e.config.BaseID == "" {
		return nil, ErrMissingCredentials
	}

	summary := &Summary{
		ID:        uuid.NewString(),
		StartedAt: e.clock.Now(),
	}
	logger := e.logger.With().Str("pass_id", summary.ID).Logger()

	logger.Info().Msg("Starting reconciliation pass")

	users, err := retry.Value(ctx, e.executor, targetDatastore, func(ctx context.Context) ([]airtable.Record, error) {
		return e.store.FetchAll(ctx, e.config.UsersTable, airtable.Query{})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching users: %w", err)
	}

	records, err := retry.Value(ctx, e.executor, targetDatastore, func(ctx context.Context) ([]airtable.Record, error) {
		return e.store.FetchAll(ctx, e.config.GamesTable, airtable.Query{})
	})
	if err != nil {
		return nil, fmt.Errorf("fetching games: %w", err)
	}
	SortGames(records)

	games := make([]Game, 0, len(records))
	gamesByUser := make(map[string][]Game)
	for _, rec := range records {
		g := newGame(rec, e.config.Fields)
		games = append(games, g)
		if g.SlackID != "" {
			gamesByUser[g.SlackID] = append(gamesByUser[g.SlackID], g)
		}
	}

	// every user is looked up once by syncUsers and again by syncGames, so the
	// cache must hold all of them for the whole pass
	cache, err := lru.New[string, Outcome](max(e.config.CacheSize, len(users), len(gamesByUser)))
	if err != nil {
		return nil, fmt.Errorf("creating activity cache: %w", err)
	}

	p := &pass{
		summary:     summary,
		logger:      logger,
		cache:       cache,
		failed:      make(map[string]string),
		gamesByUser: gamesByUser,
	}

	e.syncUsers(ctx, p, users)
	e.syncGames(ctx, p, games)

	summary.FinishedAt = e.clock.Now()
	logger.Info().
		Int("total_games", summary.TotalGames).
		Int("unique_users", summary.UniqueUsers).
		Int("successful_updates", summary.SuccessfulUpdates).
		Int("errors", summary.Errors).
		Int("skipped", summary.Skipped).
		Int("users_updated", summary.Users.SuccessfulUpdates).
		Int("posts_updated", summary.Posts.Updated).
		Int("posts_skipped", summary.Posts.Skipped).
		Dur("duration", summary.Duration()).
		Msg("Reconciliation pass complete")

	return summary, nil
}

// syncUsers recomputes and writes each user's days-active summary.
func (e *Engine) syncUsers(ctx context.Context, p *pass, users []airtable.Record) {
	s := p.summary
	s.Users.TotalUsers = len(users)

	for _, user := range users {
		slackID := user.String(e.config.Fields.UserSlackID)
		if slackID == "" {
			s.Users.Skipped++
			e.skipUser(p, SkipNoSlackID)
			continue
		}

		userGames := p.gamesByUser[slackID]
		rendered := ""
		if len(ClaimedProjects(userGames)) > 0 {
			out := e.userActivity(ctx, p, slackID)
			if !out.Usable() {
				s.Users.Errors++
				e.skipUser(p, SkipFetchFailed)
				continue
			}
			rendered = DaysActive(out.Spans, userGames, e.config.Location)
		}

		if rendered == user.String(e.config.Fields.UserDaysActive) {
			s.Users.Skipped++
			e.skipUser(p, SkipUnchanged)
			continue
		}

		err := e.update(ctx, e.config.UsersTable, user.ID, map[string]any{
			e.config.Fields.UserDaysActive: rendered,
		})
		if err != nil {
			s.Users.Errors++
			p.logger.Error().Err(err).Str("user_id", user.ID).Str("slack_id", slackID).Msg("Failed to update days active")
			continue
		}
		s.Users.SuccessfulUpdates++
		p.logger.Debug().Str("user_id", user.ID).Str("slack_id", slackID).Str("days_active", rendered).Msg("Updated days active")
	}
}

// syncGames allocates tracked seconds to games in order, one claim set per
// user, and attributes devlog hours after each game is written.
func (e *Engine) syncGames(ctx context.Context, p *pass, games []Game) {
	s := p.summary
	s.TotalGames = len(games)

	for _, userGames := range p.gamesByUser {
		for _, g := range userGames {
			if len(g.Projects) > 0 {
				s.UniqueUsers++
				break
			}
		}
	}

	claims := make(map[string]*ClaimSet)
	for _, g := range games {
		if g.SlackID == "" || len(g.Projects) == 0 {
			s.Skipped++
			continue
		}

		out := e.userActivity(ctx, p, g.SlackID)
		if !out.Usable() {
			s.Skipped++
			p.logger.Debug().Str("game_id", g.ID).Str("slack_id", g.SlackID).Str("reason", out.Reason).Msg("Skipping game without activity data")
			continue
		}

		claimSet, ok := claims[g.SlackID]
		if !ok {
			claimSet = NewClaimSet()
			claims[g.SlackID] = claimSet
		}
		seconds := Allocate(out.Totals, g.Projects, claimSet)

		err := e.update(ctx, e.config.GamesTable, g.ID, map[string]any{
			e.config.Fields.GameTrackedSeconds: seconds,
		})
		if err != nil {
			s.Errors++
			p.logger.Error().Err(err).Str("game_id", g.ID).Str("game", g.Name).Msg("Failed to update tracked seconds")
			continue
		}
		s.SuccessfulUpdates++
		p.logger.Debug().
			Str("game_id", g.ID).
			Str("game", g.Name).
			Float64("seconds", seconds).
			Strs("claimed", claimSet.Names()).
			Int("claimed_count", claimSet.Len()).
			Msg("Updated tracked seconds")

		if out.Kind == OutcomeOK {
			e.attributePosts(ctx, p, g, out.Spans)
		}
	}
}

// attributePosts writes hours to the game's unattributed posts, oldest first.
// When spans for any of the game's projects are missing the posts are left
// for a later pass, since a written value is never revisited.
func (e *Engine) attributePosts(ctx context.Context, p *pass, g Game, spans *hackatime.SpanSet) {
	if missing := spans.OmittedAmong(g.Projects); len(missing) > 0 {
		p.summary.Posts.Skipped++
		p.logger.Warn().Str("game_id", g.ID).Strs("projects", missing).Msg("Spans incomplete, deferring devlog attribution")
		return
	}

	idx, ok := e.postIndex(ctx, p)
	if !ok {
		return
	}
	posts := idx[g.ID]
	if len(posts) == 0 {
		return
	}

	for _, ph := range AttributePosts(posts, e.config.Fields, e.config.TrackingStart, spans, g.Projects) {
		err := e.update(ctx, e.config.PostsTable, ph.PostID, map[string]any{
			e.config.Fields.PostHoursSpent: ph.Hours,
		})
		if err != nil {
			p.summary.Posts.Errors++
			p.logger.Error().Err(err).Str("post_id", ph.PostID).Str("game_id", g.ID).Msg("Failed to update post hours")
			continue
		}
		p.summary.Posts.Updated++
	}
}

// postIndex fetches the posts table once per pass. A failed fetch disables
// devlog attribution for the rest of the pass.
func (e *Engine) postIndex(ctx context.Context, p *pass) (PostIndex, bool) {
	if p.postsLoaded {
		return p.posts, p.posts != nil
	}
	p.postsLoaded = true

	q := airtable.Query{Sort: []airtable.Sort{{Field: e.config.Fields.PostCreatedAt}}}
	posts, err := retry.Value(ctx, e.executor, targetDatastore, func(ctx context.Context) ([]airtable.Record, error) {
		return e.store.FetchAll(ctx, e.config.PostsTable, q)
	})
	if err != nil {
		p.summary.Posts.Errors++
		p.logger.Error().Err(err).Msg("Failed to fetch posts, skipping devlog attribution")
		return nil, false
	}

	p.posts = NewPostIndex(posts, e.config.Fields.PostGame)
	return p.posts, true
}

// userActivity returns the user's activity for this pass, fetching it at most
// once. Failures are remembered so the user is skipped everywhere.
func (e *Engine) userActivity(ctx context.Context, p *pass, slackID string) Outcome {
	if out, ok := p.cache.Get(slackID); ok {
		return out
	}
	if reason, ok := p.failed[slackID]; ok {
		return Outcome{Kind: OutcomeFetchFailed, Reason: reason}
	}

	fail := func(err error) Outcome {
		p.failed[slackID] = err.Error()
		p.logger.Warn().Err(err).Str("slack_id", slackID).Msg("Failed to fetch activity, skipping user")
		return Outcome{Kind: OutcomeFetchFailed, Reason: err.Error()}
	}

	if p.fetched {
		if err := e.sleep(ctx, e.config.UserDelay); err != nil {
			return fail(err)
		}
	}
	p.fetched = true

	totals, err := retry.Value(ctx, e.executor, targetActivity, func(ctx context.Context) (*hackatime.Totals, error) {
		return e.source.FetchTotals(ctx, slackID)
	})
	if err != nil {
		return fail(fmt.Errorf("fetching totals: %w", err))
	}

	if len(totals.Projects) == 0 {
		out := Outcome{
			Kind:   OutcomeNoActivity,
			Totals: totals,
			Spans:  &hackatime.SpanSet{ByProject: map[string][]hackatime.Span{}},
			Reason: "no tracked projects",
		}
		p.cache.Add(slackID, out)
		return out
	}

	spans, err := retry.Value(ctx, e.executor, targetActivity, func(ctx context.Context) (*hackatime.SpanSet, error) {
		return e.source.FetchSpans(ctx, slackID, totals.Projects)
	})
	if err != nil {
		return fail(fmt.Errorf("fetching spans: %w", err))
	}

	out := Outcome{Kind: OutcomeOK, Totals: totals, Spans: spans}
	p.cache.Add(slackID, out)
	return out
}

func (e *Engine) update(ctx context.Context, table, id string, fields map[string]any) error {
	err := e.executor.Do(ctx, targetDatastore, func(ctx context.Context) error {
		return e.store.Update(ctx, table, id, fields)
	})
	if err != nil {
		metrics.RecordWriteErrors.WithLabelValues(table).Inc()
		return err
	}
	metrics.RecordsUpdated.WithLabelValues(table).Inc()
	return nil
}

func (e *Engine) skipUser(p *pass, reason string) {
	p.summary.skipUser(reason)
	metrics.UsersSkipped.WithLabelValues(reason).Inc()
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := e.clock.NewTimer(d, "engine", "user_delay")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
