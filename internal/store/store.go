package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"edgeflow/models"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *DB) *Store {
	return &Store{db: db.Gorm}
}

// --- markets ----------------------------------------------------------------

// UpsertMarket inserts a new market row or replaces the mutable fields
// of the existing row with the same external id. Safe to repeat with
// identical input; concurrent upserts for one external id serialize on
// the row's unique index.
func (s *Store) UpsertMarket(ctx context.Context, nm *models.NormalizedMarket) (*models.Market, error) {
	row := models.Market{
		Platform:   nm.Platform,
		ExternalID: nm.ExternalID,
		Title:      nm.Title,
		Category:   nm.Category,
		CloseTime:  nm.CloseTime,
		YesPrice:   nm.YesPrice,
		Volume:     nm.Volume,
		IsOpen:     nm.IsOpen,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"category",
			"close_time",
			"yes_price",
			"volume",
			"is_open",
			"updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert market %s: %w", nm.ExternalID, err)
	}

	// Reload so the caller sees the surviving row identity rather than
	// the zero id the conflict path leaves behind.
	var saved models.Market
	if err := s.db.WithContext(ctx).Where("external_id = ?", nm.ExternalID).First(&saved).Error; err != nil {
		return nil, fmt.Errorf("reload market %s: %w", nm.ExternalID, err)
	}
	return &saved, nil
}

func (s *Store) GetMarket(ctx context.Context, id uint) (*models.Market, error) {
	var m models.Market
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarketFilters narrows ListMarkets. Zero values mean "no filter".
type MarketFilters struct {
	Platform models.MarketPlatform
	Category string
	OpenOnly bool
	Limit    int
	Offset   int
}

func (s *Store) ListMarkets(ctx context.Context, f MarketFilters) ([]models.Market, error) {
	query := s.db.WithContext(ctx).Model(&models.Market{})
	if f.Platform != "" {
		query = query.Where("platform = ?", f.Platform)
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.OpenOnly {
		query = query.Where("is_open = ?", true)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var items []models.Market
	if err := query.Order("updated_at desc").Limit(limit).Offset(f.Offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListOpenMarkets returns open markets with a known price, the rescan
// population for the edge detector.
func (s *Store) ListOpenMarkets(ctx context.Context, limit int) ([]models.Market, error) {
	if limit <= 0 {
		limit = 500
	}
	var items []models.Market
	err := s.db.WithContext(ctx).
		Where("is_open = ?", true).
		Where("yes_price IS NOT NULL").
		Order("updated_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- edges ------------------------------------------------------------------

// EdgeExists reports whether an edge was already recorded for this
// market at this exact probability pair, sent or not.
func (s *Store) EdgeExists(ctx context.Context, marketID uint, marketProb, modelProb float64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Edge{}).
		Where("market_id = ?", marketID).
		Where("market_probability = ?", marketProb).
		Where("model_probability = ?", modelProb).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) InsertEdge(ctx context.Context, edge *models.Edge) error {
	if edge.DetectedAt.IsZero() {
		edge.DetectedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(edge).Error
}

// EdgeFilters narrows ListEdges. MinMagnitude applies to the absolute
// magnitude.
type EdgeFilters struct {
	MinMagnitude float64
	Platform     models.MarketPlatform
	Direction    string
	Limit        int
}

func (s *Store) ListEdges(ctx context.Context, f EdgeFilters) ([]models.Edge, error) {
	query := s.db.WithContext(ctx).Model(&models.Edge{}).Preload("Market")
	if f.MinMagnitude > 0 {
		query = query.Where("abs(edge_magnitude) >= ?", f.MinMagnitude)
	}
	if f.Platform != "" {
		query = query.Joins("JOIN markets ON markets.id = edges.market_id").
			Where("markets.platform = ?", f.Platform)
	}
	if f.Direction != "" {
		query = query.Where("direction = ?", strings.ToUpper(f.Direction))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []models.Edge
	if err := query.Order("detected_at desc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListUnsentEdges returns edges whose alert batch never resolved,
// oldest first. The rescanner sweeps these so a failed dispatch or a
// crash between detection and resolution cannot strand an alert.
func (s *Store) ListUnsentEdges(ctx context.Context, limit int) ([]models.Edge, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []models.Edge
	err := s.db.WithContext(ctx).Preload("Market").
		Where("alert_sent = ?", false).
		Order("detected_at asc").Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkEdgeAlertSent flips alert_sent once. The guard keeps the
// transition monotonic even if the dispatcher retries.
func (s *Store) MarkEdgeAlertSent(ctx context.Context, edgeID uint) error {
	return s.db.WithContext(ctx).Model(&models.Edge{}).
		Where("id = ?", edgeID).
		Where("alert_sent = ?", false).
		Update("alert_sent", true).Error
}

// --- users ------------------------------------------------------------------

func (s *Store) ListAlertUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("alerts_enabled = ?", true).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUserByIdentity(ctx context.Context, identity string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("external_identity = ?", identity).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AlertPreferencePatch carries the fields a user may change. Nil fields
// are left untouched.
type AlertPreferencePatch struct {
	Email          *string
	AlertThreshold *float64
	AlertsEnabled  *bool
	AlertPlatforms *string
	TelegramChatID *string
}

// UpdateAlertPreferences applies a patch to the identified user's
// preferences. The caller is responsible for having authenticated the
// identity; this layer only validates the values.
func (s *Store) UpdateAlertPreferences(ctx context.Context, identity string, patch AlertPreferencePatch) (*models.User, error) {
	if patch.AlertThreshold != nil && (*patch.AlertThreshold < 0 || *patch.AlertThreshold > 1) {
		return nil, fmt.Errorf("alert threshold %v out of [0,1]", *patch.AlertThreshold)
	}
	if patch.AlertPlatforms != nil {
		for _, part := range strings.Split(*patch.AlertPlatforms, ",") {
			p := models.MarketPlatform(strings.ToLower(strings.TrimSpace(part)))
			if part != "" && !p.Valid() {
				return nil, fmt.Errorf("unknown alert platform %q", part)
			}
		}
	}

	updates := map[string]interface{}{}
	if patch.Email != nil {
		updates["email"] = *patch.Email
	}
	if patch.AlertThreshold != nil {
		updates["alert_threshold"] = *patch.AlertThreshold
	}
	if patch.AlertsEnabled != nil {
		updates["alerts_enabled"] = *patch.AlertsEnabled
	}
	if patch.AlertPlatforms != nil {
		updates["alert_platforms"] = strings.ToLower(*patch.AlertPlatforms)
	}
	if patch.TelegramChatID != nil {
		updates["telegram_chat_id"] = *patch.TelegramChatID
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.User{}).
			Where("external_identity = ?", identity).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetUserByIdentity(ctx, identity)
}

// --- article chunks ---------------------------------------------------------

// InsertChunk stores a chunk unless the same (source_url, chunk_index)
// already exists; re-ingesting a document is a no-op.
func (s *Store) InsertChunk(ctx context.Context, chunk *models.ArticleChunk) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_url"}, {Name: "chunk_index"}},
		DoNothing: true,
	}).Create(chunk).Error
}

func (s *Store) ListChunks(ctx context.Context) ([]models.ArticleChunk, error) {
	var chunks []models.ArticleChunk
	if err := s.db.WithContext(ctx).Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}
