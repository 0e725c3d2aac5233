// File: internal/walker/walker.go
// Package walker runs one session: the classify, extract, navigate loop over a
// single target's feed, with the stuck and safety checks that end it.
package walker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/classifier"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/extractor"
	"github.com/xkilldash9x/feedwalker/internal/fetch"
	"github.com/xkilldash9x/feedwalker/internal/humanoid"
	"github.com/xkilldash9x/feedwalker/internal/navigator"
	"github.com/xkilldash9x/feedwalker/internal/observability"
	"github.com/xkilldash9x/feedwalker/internal/signals"
	"github.com/xkilldash9x/feedwalker/internal/store"
)

// CursorCollection holds the newest item id seen per (platform, target).
const CursorCollection = "cursors"

// cleanupTimeout bounds the close and navigate-home steps after a walk.
const cleanupTimeout = 15 * time.Second

// Params identifies one walk.
type Params struct {
	Target string
	// StartFrom seeds the item sequence; 1 is a fresh walk.
	StartFrom int
	// StopAtID ends the walk with Success when this item id comes up.
	StopAtID string
}

// Collaborators are the shared services a walker is built on.
type Collaborators struct {
	Storage  schemas.Storage
	Fetcher  schemas.Fetcher
	Humanoid *humanoid.Humanoid
	// Snapshots receives diagnostic captures; nil disables them.
	Snapshots schemas.Snapshotter
}

// Cursor remembers where the last fresh walk of a target started.
type Cursor struct {
	NewestItemID string    `json:"newest_item_id"`
	SessionID    string    `json:"session_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CursorID is the record id of a target's cursor.
func CursorID(platform, target string) string {
	return platform + ":" + target
}

// ItemCollection is the record collection items of a platform are stored in.
func ItemCollection(platform string) string {
	return platform + "_items"
}

// SessionSummary is the record written for every finished walk.
type SessionSummary struct {
	SessionID  string                `json:"session_id"`
	Target     string                `json:"target"`
	Platform   string                `json:"platform"`
	Profile    string                `json:"profile"`
	Status     schemas.SessionStatus `json:"status"`
	ItemIDs    []string              `json:"item_ids"`
	LastIndex  int                   `json:"last_index"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	DurationMs int64                 `json:"duration_ms"`
}

// Walker drives sessions for one signal profile. It holds no per-session
// state and may run several sessions at once on different views.
type Walker struct {
	profile    *signals.Profile
	cfg        config.WalkerConfig
	storage    schemas.Storage
	human      *humanoid.Humanoid
	snaps      schemas.Snapshotter
	classifier *classifier.Classifier
	extractor  *extractor.Extractor
	navigator  *navigator.Navigator
	logger     *zap.Logger
	now        func() time.Time
}

// New wires a Walker from its profile, bounds and collaborators.
func New(profile *signals.Profile, cfg config.WalkerConfig, policy fetch.Policy, deps Collaborators, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = observability.GetLogger()
	}
	human := deps.Humanoid
	if human == nil {
		human = humanoid.New(config.HumanoidConfig{}, logger)
	}
	snaps := deps.Snapshots
	if !cfg.Diagnostics {
		snaps = nil
	}

	var (
		classOpts []classifier.Option
		extOpts   []extractor.Option
	)
	if snaps != nil {
		classOpts = append(classOpts, classifier.WithSnapshots(snaps))
		extOpts = append(extOpts, extractor.WithSnapshots(snaps))
	}

	return &Walker{
		profile:    profile,
		cfg:        cfg,
		storage:    deps.Storage,
		human:      human,
		snaps:      snaps,
		classifier: classifier.New(profile, logger, classOpts...),
		extractor:  extractor.New(profile, deps.Fetcher, deps.Storage, policy, logger, extOpts...),
		navigator:  navigator.New(profile, classifier.NewEndDetector(profile, logger), human, cfg.SettleInterval, cfg.VideoSettle, logger),
		logger:     logger.Named("walker"),
		now:        time.Now,
	}
}

// stop is a terminal status reached inside the loop. A nil *stop means keep going.
type stop struct {
	status schemas.SessionStatus
	err    error
}

func halt(status schemas.SessionStatus) *stop { return &stop{status: status} }

// session is the state owned by one Walk call.
type session struct {
	id     string
	target string
	stopAt string
	logger *zap.Logger
	items  []schemas.Item
	seen   map[string]bool
	// passed holds feed items that were skipped or could not be classified.
	passed  map[string]bool
	seq     int
	last    int
	started time.Time

	prevVideoID string
	sameVideo   int
	failures    int
	skips       int
	stalls      int
}

// Walk runs a session on view until a terminal status. Items collected before
// the end are always in the result. Cleanup and the session record are best
// effort and never change the status.
func (w *Walker) Walk(ctx context.Context, view schemas.View, p Params) (res schemas.SessionResult) {
	start := p.StartFrom
	if start < 1 {
		start = 1
	}
	s := &session{
		id:      uuid.NewString(),
		target:  p.Target,
		stopAt:  p.StopAtID,
		seen:    make(map[string]bool),
		passed:  make(map[string]bool),
		seq:     start - 1,
		last:    start - 1,
		started: w.now(),
	}
	s.logger = observability.SessionLogger(w.logger, p.Target, w.profile.Platform, s.id)

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.MaxDuration)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Walk panicked.", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res.Status = schemas.StatusError
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.SessionID = s.id
		res.Target = p.Target
		res.Platform = w.profile.Platform
		res.Items = s.items
		res.LastIndex = max(s.last, start-1)
		res.StartedAt = s.started
		res.FinishedAt = w.now()

		w.cleanup(ctx, view, s.logger)
		w.persistSession(ctx, s, res, start)

		s.logger.Info("Walk finished.",
			zap.String("status", string(res.Status)),
			zap.Int("items", len(res.Items)),
			zap.Int("last_index", res.LastIndex),
			zap.Duration("duration", res.Duration()),
		)
	}()

	s.logger.Info("Starting walk.", zap.String("profile", w.profile.Name), zap.Int("start_from", start))
	st := w.run(runCtx, ctx, view, s)
	res.Status = st.status
	if st.err != nil {
		res.Error = st.err.Error()
	}
	return res
}

// run is the state machine. parent is the caller's context, used to tell a
// cancellation apart from the wall clock cap expiring on ctx.
func (w *Walker) run(ctx, parent context.Context, view schemas.View, s *session) *stop {
	if st := w.open(ctx, parent, view, s); st != nil {
		return st
	}

	for {
		if st := w.checkBounds(ctx, parent, s); st != nil {
			return st
		}

		if w.profile.Feed {
			if st := w.feedStep(ctx, parent, view, s); st != nil {
				return st
			}
			continue
		}

		if classifier.AnyPresent(ctx, view, w.profile.SkipIndicators, s.logger) {
			s.skips++
			if s.skips > w.cfg.MaxSkips {
				s.logger.Warn("Too many consecutive skipped items.", zap.Int("skips", s.skips))
				return halt(schemas.StatusSafetyLimit)
			}
			s.logger.Debug("Skipping item.", zap.Int("consecutive", s.skips))
			if st := w.advance(ctx, parent, view, s, schemas.ContentImage, false, false); st != nil {
				return st
			}
			continue
		}
		s.skips = 0

		itemID, sourceURL := w.identify(ctx, view, s)
		if w.reachedCursor(itemID, s) {
			s.logger.Info("Reached the newest item from the previous walk.", zap.String("item_id", itemID))
			return halt(schemas.StatusSuccess)
		}

		ct := w.classifier.Classify(ctx, view)
		logger := s.logger.With(zap.String("item_id", itemID), zap.String("content_type", string(ct)))

		switch ct {
		case schemas.ContentEndMarker:
			logger.Info("End marker reached.")
			return halt(schemas.StatusSuccess)
		case schemas.ContentVideo:
			if itemID == s.prevVideoID {
				s.sameVideo++
			} else {
				s.sameVideo = 0
			}
			s.prevVideoID = itemID
			if s.sameVideo >= w.cfg.MaxSameItem {
				logger.Warn("Stuck on the same video.", zap.Int("repeats", s.sameVideo))
				return halt(schemas.StatusStuckOnItem)
			}
		}

		failed, progressed := false, false
		switch {
		case ct == schemas.ContentUnknown:
			logger.Warn("Could not classify the current view.")
			failed = true
		case s.seen[itemID]:
			logger.Debug("Item already extracted this session.")
			// A repeated video is the stuck detector's business.
			failed = ct != schemas.ContentVideo
		default:
			ok, err := w.collect(ctx, view, nil, s, itemID, sourceURL, ct, logger)
			if err != nil && ctx.Err() != nil {
				continue
			}
			failed = !ok
			progressed = true
		}

		if len(s.items) >= w.cfg.MaxItems {
			s.logger.Info("Item cap reached.", zap.Int("max_items", w.cfg.MaxItems))
			return halt(schemas.StatusSafetyLimit)
		}

		if err := w.human.CognitivePause(ctx); err != nil {
			continue
		}
		if st := w.advance(ctx, parent, view, s, ct, progressed, failed); st != nil {
			return st
		}
	}
}

// feedStep handles the first mounted item the session has not dealt with.
// Feed items stay mounted as the page moves down, so every lookup is made
// inside that item's container and the page only scrolls once nothing fresh
// is left.
func (w *Walker) feedStep(ctx, parent context.Context, view schemas.View, s *session) *stop {
	f, ok := w.locate(ctx, view, s)
	if !ok {
		return w.scrollFeed(ctx, parent, view, s)
	}
	s.stalls = 0

	if classifier.AnyPresent(ctx, f.view, w.profile.SkipIndicators, s.logger) {
		s.passed[f.id] = true
		s.skips++
		if s.skips > w.cfg.MaxSkips {
			s.logger.Warn("Too many consecutive skipped items.", zap.Int("skips", s.skips))
			return halt(schemas.StatusSafetyLimit)
		}
		s.logger.Debug("Skipping item.", zap.String("item_id", f.id), zap.Int("consecutive", s.skips))
		return nil
	}
	s.skips = 0

	if w.reachedCursor(f.id, s) {
		s.logger.Info("Reached the newest item from the previous walk.", zap.String("item_id", f.id))
		return halt(schemas.StatusSuccess)
	}

	ct := w.classifier.Classify(ctx, f.view)
	logger := s.logger.With(zap.String("item_id", f.id), zap.String("content_type", string(ct)))
	switch ct {
	case schemas.ContentEndMarker:
		logger.Info("End marker reached.")
		return halt(schemas.StatusSuccess)
	case schemas.ContentUnknown:
		logger.Warn("Could not classify the item.")
		s.passed[f.id] = true
		return w.fail(s, "item")
	}

	ok, err := w.collect(ctx, f.view, f.root, s, f.id, f.url, ct, logger)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if len(s.items) >= w.cfg.MaxItems {
		s.logger.Info("Item cap reached.", zap.Int("max_items", w.cfg.MaxItems))
		return halt(schemas.StatusSafetyLimit)
	}
	if err := w.human.CognitivePause(ctx); err != nil {
		return nil
	}
	if !ok {
		return w.fail(s, "item")
	}
	s.failures = 0
	return nil
}

// scrollFeed moves a feed on once every mounted item is done. A scroll that
// mounts nothing new is a stall rather than a failure; MaxFailures stalls in a
// row end the walk as exhausted.
func (w *Walker) scrollFeed(ctx, parent context.Context, view schemas.View, s *session) *stop {
	if ctx.Err() != nil {
		return w.interrupted(parent)
	}
	s.stalls++
	if s.stalls >= w.cfg.MaxFailures {
		s.logger.Info("Feed exhausted.", zap.Int("stalls", s.stalls))
		return halt(schemas.StatusSuccess)
	}
	return w.advance(ctx, parent, view, s, schemas.ContentImage, false, false)
}

// focus is one mounted feed item.
type focus struct {
	view schemas.View
	root schemas.Element
	id   string
	url  string
}

// itemView answers element lookups from root's subtree. Everything else,
// including page text and gestures, still goes to the page.
type itemView struct {
	schemas.View
	root schemas.Element
}

func (v itemView) FindAll(ctx context.Context, sel schemas.Selector) ([]schemas.Element, error) {
	return v.View.FindIn(ctx, v.root, sel)
}

func (v itemView) FindOne(ctx context.Context, sel schemas.Selector) (schemas.Element, error) {
	els, err := v.FindAll(ctx, sel)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// locate returns the first mounted container, in document order, whose item
// id is new to the session. Containers without a recognisable id are ignored.
func (w *Walker) locate(ctx context.Context, view schemas.View, s *session) (focus, bool) {
	roots, err := view.FindAll(ctx, *w.profile.ItemContainer)
	if err != nil {
		s.logger.Debug("Listing item containers failed.", zap.Error(err))
		return focus{}, false
	}
	for _, root := range roots {
		raw, href, ok := w.containerID(ctx, view, root)
		if !ok {
			continue
		}
		id := fmt.Sprintf("%s_%s", s.target, raw)
		if s.seen[id] || s.passed[id] {
			continue
		}
		return focus{view: itemView{View: view, root: root}, root: root, id: id, url: w.absolute(href)}, true
	}
	return focus{}, false
}

// containerID reads the first id element inside root that yields an id.
func (w *Walker) containerID(ctx context.Context, view schemas.View, root schemas.Element) (string, string, bool) {
	els, err := view.FindIn(ctx, root, *w.profile.IDElement)
	if err != nil {
		return "", "", false
	}
	for _, el := range els {
		v, ok := el.Attr(w.idAttr())
		if !ok {
			continue
		}
		if id, ok := w.profile.MatchID(v); ok {
			return id, v, true
		}
	}
	return "", "", false
}

func (w *Walker) idAttr() string {
	if w.profile.IDAttr == "" {
		return "href"
	}
	return w.profile.IDAttr
}

// absolute resolves a relative id link against the profile's embed base.
func (w *Walker) absolute(href string) string {
	base, err := url.Parse(w.profile.EmbedBase)
	if err != nil || w.profile.EmbedBase == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// reachedCursor reports whether id is where the previous fresh walk began.
// Posts run newest first, so a post at or behind the cursor ends the walk too.
// Stories play oldest first and only stop on the cursor item itself.
func (w *Walker) reachedCursor(id string, s *session) bool {
	if s.stopAt == "" {
		return false
	}
	if w.profile.Mode == signals.ModePosts {
		return pastCursor(id, s.stopAt, s.target)
	}
	return id == s.stopAt
}

// pastCursor reports whether id is the cursor item or older. Ids whose
// platform part is numeric compare by value, so the walk still stops when the
// cursor item itself has gone. Anything else must match exactly.
func pastCursor(id, cursor, target string) bool {
	if id == cursor {
		return true
	}
	prefix := target + "_"
	a, okA := strings.CutPrefix(id, prefix)
	b, okB := strings.CutPrefix(cursor, prefix)
	if !okA || !okB {
		return false
	}
	n, errA := strconv.ParseUint(a, 10, 64)
	c, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return false
	}
	return n <= c
}

// open navigates to the target and confirms there is content to walk.
func (w *Walker) open(ctx, parent context.Context, view schemas.View, s *session) *stop {
	entry := w.profile.Entry(s.target)
	if err := view.Navigate(ctx, entry); err != nil {
		if ctx.Err() != nil {
			return w.interrupted(parent)
		}
		return &stop{status: schemas.StatusError, err: fmt.Errorf("opening %s: %w", entry, err)}
	}

	for _, sel := range w.profile.EnterControls {
		el, err := view.FindOne(ctx, sel)
		if err != nil || el == nil {
			continue
		}
		if err := view.Act(ctx, el, schemas.Click()); err != nil {
			s.logger.Debug("Enter control click failed.", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		s.logger.Debug("Entered the viewer.", zap.Stringer("selector", sel))
		if err := w.human.Settle(ctx, w.cfg.SettleInterval); err != nil {
			return w.interrupted(parent)
		}
		break
	}

	if !w.waitForContent(ctx, view, s.logger) {
		if ctx.Err() != nil {
			return w.interrupted(parent)
		}
		s.logger.Info("No content to walk.")
		return halt(schemas.StatusNoContent)
	}
	return nil
}

// waitForContent gives each content indicator an equal share of the load timeout.
func (w *Walker) waitForContent(ctx context.Context, view schemas.View, logger *zap.Logger) bool {
	indicators := w.profile.ContentIndicators
	if len(indicators) == 0 {
		return false
	}
	share := w.cfg.LoadTimeout / time.Duration(len(indicators))
	if share <= 0 {
		share = time.Second
	}
	for _, sel := range indicators {
		if err := view.WaitFor(ctx, sel, share); err == nil {
			logger.Debug("Content indicator found.", zap.Stringer("selector", sel))
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// checkBounds enforces the hard limits that apply whatever else is going on.
func (w *Walker) checkBounds(ctx, parent context.Context, s *session) *stop {
	if ctx.Err() != nil {
		return w.interrupted(parent)
	}
	if len(s.items) >= w.cfg.MaxItems {
		s.logger.Info("Item cap reached.", zap.Int("max_items", w.cfg.MaxItems))
		return halt(schemas.StatusSafetyLimit)
	}
	return nil
}

// interrupted maps a done run context to a status: the caller cancelling is
// an error, the wall clock cap running out is a safety stop.
func (w *Walker) interrupted(parent context.Context) *stop {
	if err := parent.Err(); err != nil {
		return &stop{status: schemas.StatusError, err: fmt.Errorf("walk cancelled: %w", err)}
	}
	w.logger.Debug("Wall clock cap reached.", zap.Duration("max_duration", w.cfg.MaxDuration))
	return halt(schemas.StatusSafetyLimit)
}

// fail counts one failed iteration.
func (w *Walker) fail(s *session, what string) *stop {
	s.failures++
	s.logger.Debug("Iteration failed.", zap.String("stage", what), zap.Int("consecutive", s.failures))
	if s.failures >= w.cfg.MaxFailures {
		s.logger.Warn("Too many consecutive failures.", zap.Int("failures", s.failures))
		return halt(schemas.StatusTooManyFailures)
	}
	return nil
}

// advance moves to the next item and settles the iteration's failure count.
// An iteration counts as at most one failure. A successful advance clears the
// count only when the iteration produced a new item.
func (w *Walker) advance(ctx, parent context.Context, view schemas.View, s *session, ct schemas.ContentType, progressed, failed bool) *stop {
	out := w.navigator.Advance(ctx, view, ct, s.target)
	switch {
	case out.EndReached:
		s.logger.Info("End of content reached.")
		return halt(schemas.StatusSuccess)
	case !out.Success:
		if ctx.Err() != nil {
			return w.interrupted(parent)
		}
		s.logger.Warn("Navigation failed.", zap.Error(out.Err))
		w.snapshot(ctx, view, fmt.Sprintf("%s_nav_failure", s.target), s.logger)
		return w.fail(s, "navigation")
	case failed:
		return w.fail(s, "item")
	case progressed:
		s.failures = 0
	}
	return nil
}

// collect extracts the current item and appends it. ok is false when the
// extraction or storage failed; the item is still recorded.
func (w *Walker) collect(ctx context.Context, view schemas.View, root schemas.Element, s *session, itemID, sourceURL string, ct schemas.ContentType, logger *zap.Logger) (bool, error) {
	res, err := w.extractor.Extract(ctx, view, s.target, itemID, ct)
	if err != nil && ctx.Err() != nil {
		return false, err
	}

	s.seq++
	item := schemas.Item{
		ID:                       itemID,
		Target:                   s.target,
		Platform:                 w.profile.Platform,
		Sequence:                 s.seq,
		ContentType:              ct,
		SourceURL:                sourceURL,
		Media:                    res.Media,
		MediaFromFallbackCapture: res.FromFallback,
		DiagnosticSnapshot:       res.Snapshot,
		ScrapedAt:                w.now().UTC(),
	}
	ok := true
	if err != nil {
		logger.Error("Extraction failed.", zap.Error(err))
		item.ExtractionFailed = true
		ok = false
	}

	if w.profile.Mode == signals.ModePosts {
		md := w.extractor.Metadata(ctx, view, root, sourceURL)
		item.Caption = md.Caption
		item.Timestamp = md.Timestamp
		item.Links = md.Links
		item.EmbedLinks = md.EmbedLinks
	}

	s.items = append(s.items, item)
	s.seen[itemID] = true
	s.last = s.seq

	if err := w.storage.UpsertRecord(ctx, ItemCollection(w.profile.Platform), itemID, item); err != nil {
		logger.Error("Storing item record failed.", zap.Error(err))
		ok = false
	}

	logger.Info("Collected item.",
		zap.Int("sequence", item.Sequence),
		zap.Int("media", len(item.Media)),
		zap.Bool("fallback", item.MediaFromFallbackCapture),
		zap.Bool("already_stored", res.AlreadyStored),
	)
	return ok, nil
}

// identify derives the item id from the URL, then the id element, then the
// session sequence. It also returns the URL it looked at.
func (w *Walker) identify(ctx context.Context, view schemas.View, s *session) (string, string) {
	current, err := view.CurrentURL(ctx)
	if err != nil {
		s.logger.Debug("Reading current URL failed.", zap.Error(err))
	}
	if id, ok := w.profile.MatchID(current); ok {
		return fmt.Sprintf("%s_%s", s.target, id), current
	}

	if w.profile.IDElement != nil {
		if el, err := view.FindOne(ctx, *w.profile.IDElement); err == nil && el != nil {
			if v, ok := el.Attr(w.idAttr()); ok {
				if id, ok := w.profile.MatchID(v); ok {
					return fmt.Sprintf("%s_%s", s.target, id), current
				}
			}
		}
	}
	return fmt.Sprintf("%s_item_%d", s.target, s.seq+1), current
}

func (w *Walker) snapshot(ctx context.Context, view schemas.View, name string, logger *zap.Logger) {
	if w.snaps == nil {
		return
	}
	png, err := view.Screenshot(ctx)
	if err != nil {
		logger.Debug("Diagnostic screenshot failed.", zap.Error(err))
		return
	}
	if _, err := w.snaps.SaveSnapshot(ctx, name, png); err != nil {
		logger.Debug("Saving diagnostic snapshot failed.", zap.Error(err))
	}
}

// -- Termination --

// cleanup closes the viewer and leaves the page somewhere neutral. It runs on
// a fresh deadline so an expired walk can still tidy up.
func (w *Walker) cleanup(ctx context.Context, view schemas.View, logger *zap.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Cleanup panicked.", zap.Any("panic", r))
		}
	}()

	for _, sel := range w.profile.CloseControls {
		el, err := view.FindOne(cctx, sel)
		if err != nil || el == nil {
			continue
		}
		if err := view.Act(cctx, el, schemas.Click()); err != nil {
			logger.Debug("Close control failed.", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		logger.Debug("Closed the viewer.", zap.Stringer("selector", sel))
		break
	}

	if w.profile.HomeURL == "" {
		return
	}
	if err := view.Navigate(cctx, w.profile.HomeURL); err != nil {
		logger.Warn("Navigating home after the walk failed.", zap.Error(err))
	}
}

// persistSession writes the session summary and, for a fresh walk, the cursor.
func (w *Walker) persistSession(ctx context.Context, s *session, res schemas.SessionResult, start int) {
	if w.storage == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.ID
	}
	summary := SessionSummary{
		SessionID:  res.SessionID,
		Target:     res.Target,
		Platform:   res.Platform,
		Profile:    w.profile.Name,
		Status:     res.Status,
		ItemIDs:    ids,
		LastIndex:  res.LastIndex,
		Error:      res.Error,
		StartedAt:  res.StartedAt.UTC(),
		FinishedAt: res.FinishedAt.UTC(),
		DurationMs: res.Duration().Milliseconds(),
	}
	collection := w.cfg.SessionCollection
	if collection == "" {
		collection = "sessions"
	}
	if err := w.storage.UpsertRecord(pctx, collection, res.SessionID, summary); err != nil {
		s.logger.Warn("Storing session summary failed.", zap.Error(err))
	}

	if start != 1 || len(res.Items) == 0 {
		return
	}
	cursor := Cursor{NewestItemID: res.Items[0].ID, SessionID: res.SessionID, UpdatedAt: res.FinishedAt.UTC()}
	if err := w.storage.UpsertRecord(pctx, CursorCollection, CursorID(w.profile.Platform, s.target), cursor); err != nil {
		s.logger.Warn("Storing cursor failed.", zap.Error(err))
	}
}

// LoadCursor returns the stored cursor for a target. found is false when no
// cursor exists; other storage errors are returned.
func LoadCursor(ctx context.Context, rs schemas.RecordStore, platform, target string) (c Cursor, found bool, err error) {
	err = rs.GetRecord(ctx, CursorCollection, CursorID(platform, target), &c)
	switch {
	case err == nil:
		return c, c.NewestItemID != "", nil
	case errors.Is(err, store.ErrNotFound):
		return Cursor{}, false, nil
	default:
		return Cursor{}, false, fmt.Errorf("loading cursor for %s: %w", target, err)
	}
}
