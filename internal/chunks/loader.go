// Package chunks pages the practically-unbounded board into the local
// store by translating screen viewports into world-space tile queries
// against the document service.
package chunks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlabs/driftboard/internal/board"
	"github.com/driftlabs/driftboard/internal/spatial"
)

const (
	// DefaultMargin expands the visible world bounds so tiles load before
	// they scroll into view.
	DefaultMargin = 500.0
	// DefaultKeyBucket is the quantization grid for viewport keys.
	DefaultKeyBucket = 100.0

	defaultRequestTimeout = 10 * time.Second

	opLoadViewport  = "chunks.load_viewport"
	opPreloadAround = "chunks.preload_around"
)

var (
	errMissingBaseURL = errors.New("chunks: base url is required")
	errMissingBoardID = errors.New("chunks: board id is required")
	errMissingSink    = errors.New("chunks: object sink is required")
)

// ScreenViewport is the visible window in screen pixels plus zoom.
type ScreenViewport struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	Scale  float64
}

// WorldBounds converts the screen viewport to world coordinates. The
// viewport offset is a translation, so world position runs opposite to it.
func (v ScreenViewport) WorldBounds() spatial.BoundingBox {
	scale := v.Scale
	if scale < board.MinViewportScale {
		scale = board.MinViewportScale
	}
	minX := -v.X / scale
	minY := -v.Y / scale
	return spatial.BoundingBox{
		MinX: minX,
		MinY: minY,
		MaxX: minX + v.Width/scale,
		MaxY: minY + v.Height/scale,
	}
}

// ObjectSink receives fetched objects. Merges must be idempotent upserts:
// stale responses arriving after a newer viewport are harmless no-ops.
type ObjectSink interface {
	ApplyRemoteUpsert(obj board.Object) error
}

// LoaderConfig bundles the dependencies of a Loader.
type LoaderConfig struct {
	BaseURL    string
	BoardID    string
	Sink       ObjectSink
	HTTPClient *http.Client
	Margin     float64
	KeyBucket  float64
	Logger     *zap.Logger
}

// Loader issues viewport-scoped document-service queries and merges the
// results into the local store. Consecutive viewports quantizing to the
// same key collapse into a single query; that dedup is the backpressure
// against request storms on continuous scroll.
type Loader struct {
	baseURL    string
	boardID    string
	sink       ObjectSink
	httpClient *http.Client
	margin     float64
	keyBucket  float64
	logger     *zap.Logger

	mu           sync.Mutex
	lastKey      string
	loadedChunks map[string]struct{}
}

// NewLoader constructs a Loader.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.BoardID == "" {
		return nil, errMissingBoardID
	}
	if cfg.Sink == nil {
		return nil, errMissingSink
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	margin := cfg.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}
	keyBucket := cfg.KeyBucket
	if keyBucket <= 0 {
		keyBucket = DefaultKeyBucket
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		baseURL:      cfg.BaseURL,
		boardID:      cfg.BoardID,
		sink:         cfg.Sink,
		httpClient:   httpClient,
		margin:       margin,
		keyBucket:    keyBucket,
		logger:       logger,
		loadedChunks: make(map[string]struct{}),
	}, nil
}

// LoadViewport fetches objects for the given screen viewport. A viewport
// quantizing to the previously issued key is a no-op. The key is claimed
// before the request goes out, so concurrent calls for the same viewport
// collapse into one query; network failure releases the claim and keeps
// the cache, so the same viewport retries on the next call.
func (l *Loader) LoadViewport(ctx context.Context, viewport ScreenViewport) error {
	bounds := viewport.WorldBounds().Expand(l.margin)
	key := l.viewportKey(bounds)
	l.mu.Lock()
	if key == l.lastKey {
		l.mu.Unlock()
		return nil
	}
	previous := l.lastKey
	l.lastKey = key
	l.mu.Unlock()

	response, err := l.queryViewport(ctx, bounds)
	if err != nil {
		l.mu.Lock()
		if l.lastKey == key {
			l.lastKey = previous
		}
		l.mu.Unlock()
		l.logger.Warn("viewport load failed, keeping cached state",
			zap.String("operation", opLoadViewport),
			zap.String("board_id", l.boardID),
			zap.Error(err))
		return err
	}

	l.mergeObjects(response.Objects)
	l.mu.Lock()
	for _, chunkID := range response.LoadedChunks {
		l.loadedChunks[chunkID] = struct{}{}
	}
	l.mu.Unlock()

	l.logger.Debug("viewport loaded",
		zap.String("operation", opLoadViewport),
		zap.Int("objects", len(response.Objects)),
		zap.Int("chunks", len(response.LoadedChunks)))
	return nil
}

// PreloadAround anticipatorily fetches a square of chunks centered on a
// world position, independent of the viewport-key dedup.
func (l *Loader) PreloadAround(ctx context.Context, x, y float64, radius int) error {
	response, err := l.queryAround(ctx, x, y, radius)
	if err != nil {
		l.logger.Warn("chunk preload failed, keeping cached state",
			zap.String("operation", opPreloadAround),
			zap.String("board_id", l.boardID),
			zap.Error(err))
		return err
	}
	for _, chunk := range response.Chunks {
		l.mergeObjects(chunk.Objects)
		l.mu.Lock()
		l.loadedChunks[chunk.ID] = struct{}{}
		l.mu.Unlock()
	}
	return nil
}

// LoadedChunkIDs reports the chunk ids known to be resident locally.
func (l *Loader) LoadedChunkIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loadedChunks))
	for chunkID := range l.loadedChunks {
		out = append(out, chunkID)
	}
	return out
}

// Reset forgets the dedup key and the loaded-chunk set, forcing the next
// LoadViewport to query.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastKey = ""
	l.loadedChunks = make(map[string]struct{})
}

func (l *Loader) mergeObjects(objects []board.Object) {
	for _, obj := range objects {
		if err := l.sink.ApplyRemoteUpsert(obj); err != nil {
			l.logger.Warn("skipping invalid fetched object",
				zap.String("operation", opLoadViewport),
				zap.String("object_id", obj.ID),
				zap.Error(err))
		}
	}
}

// viewportKey quantizes the four world bounds to a coarse grid so small
// pans and zooms map to the same key.
func (l *Loader) viewportKey(bounds spatial.BoundingBox) string {
	return fmt.Sprintf("%d:%d:%d:%d",
		int(math.Floor(bounds.MinX/l.keyBucket)),
		int(math.Floor(bounds.MinY/l.keyBucket)),
		int(math.Floor(bounds.MaxX/l.keyBucket)),
		int(math.Floor(bounds.MaxY/l.keyBucket)))
}

type viewportResponse struct {
	Objects      []board.Object `json:"objects"`
	LoadedChunks []string       `json:"loaded_chunks"`
	Stats        spatial.Stats  `json:"stats"`
}

type chunkPayload struct {
	ID      string         `json:"id"`
	Objects []board.Object `json:"objects"`
}

type aroundResponse struct {
	CenterChunk string         `json:"centerChunk"`
	Chunks      []chunkPayload `json:"chunks"`
}

func (l *Loader) queryViewport(ctx context.Context, bounds spatial.BoundingBox) (viewportResponse, error) {
	body, err := json.Marshal(bounds)
	if err != nil {
		return viewportResponse{}, err
	}
	endpoint := fmt.Sprintf("%s/boards/%s/chunks/viewport", l.baseURL, url.PathEscape(l.boardID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return viewportResponse{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	var decoded viewportResponse
	if err := l.do(request, &decoded); err != nil {
		return viewportResponse{}, err
	}
	return decoded, nil
}

func (l *Loader) queryAround(ctx context.Context, x, y float64, radius int) (aroundResponse, error) {
	endpoint := fmt.Sprintf("%s/boards/%s/chunks/around", l.baseURL, url.PathEscape(l.boardID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return aroundResponse{}, err
	}
	query := request.URL.Query()
	query.Set("x", strconv.FormatFloat(x, 'f', -1, 64))
	query.Set("y", strconv.FormatFloat(y, 'f', -1, 64))
	query.Set("radius", strconv.Itoa(radius))
	request.URL.RawQuery = query.Encode()

	var decoded aroundResponse
	if err := l.do(request, &decoded); err != nil {
		return aroundResponse{}, err
	}
	return decoded, nil
}

func (l *Loader) do(request *http.Request, out any) error {
	response, err := l.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("chunks: unexpected status %d from %s", response.StatusCode, request.URL.Path)
	}
	return json.NewDecoder(response.Body).Decode(out)
}
