package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kioskly/popserver/internal/models"
)

// MemoryStore is an in-memory implementation of every repo interface. It is
// used when PostgreSQL is unavailable and by tests. A single struct backs
// all repos because the play report query joins across entities.
type MemoryStore struct {
	mu        sync.RWMutex
	kiosks    map[string]*models.Kiosk
	assets    map[string]*models.Asset
	campaigns map[string]*models.Campaign
	links     map[string]struct{} // campaign_id + "\x00" + asset_id
	plays     map[string]*models.Play
	batches   []*models.ImportBatch
	orgKeys   map[string]string // api_key -> org_id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kiosks:    make(map[string]*models.Kiosk),
		assets:    make(map[string]*models.Asset),
		campaigns: make(map[string]*models.Campaign),
		links:     make(map[string]struct{}),
		plays:     make(map[string]*models.Play),
		orgKeys:   make(map[string]string),
	}
}

// AddAPIKey registers an api key for an org. Test/degraded-mode helper.
func (s *MemoryStore) AddAPIKey(apiKey, orgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgKeys[apiKey] = orgID
}

func (s *MemoryStore) ResolveOrg(ctx context.Context, apiKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orgID, ok := s.orgKeys[apiKey]
	if !ok {
		return "", ErrUnknownKey
	}
	if orgID == "" {
		return "", ErrNoMembership
	}
	return orgID, nil
}

// ---- KioskRepo ----

func (s *MemoryStore) UpsertKioskByExternalID(ctx context.Context, orgID, provider, externalID, name string) (*models.Kiosk, error) {
	if externalID == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.kiosks {
		if k.OrgID == orgID && k.Provider == provider && k.ExternalID != nil && *k.ExternalID == externalID {
			k.Name = name
			k.UpdatedAt = time.Now().UTC()
			cp := *k
			return &cp, nil
		}
	}

	now := time.Now().UTC()
	ext := externalID
	k := &models.Kiosk{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		Provider:   provider,
		ExternalID: &ext,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.kiosks[k.ID] = k
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) UpsertKioskByName(ctx context.Context, orgID, provider, name string) (*models.Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.kiosks {
		if k.OrgID == orgID && k.Name == name {
			k.Provider = provider
			k.UpdatedAt = time.Now().UTC()
			cp := *k
			return &cp, nil
		}
	}

	now := time.Now().UTC()
	k := &models.Kiosk{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Provider:  provider,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.kiosks[k.ID] = k
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) ListKiosks(ctx context.Context, orgID string) ([]*models.Kiosk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*models.Kiosk
	for _, k := range s.kiosks {
		if k.OrgID == orgID {
			cp := *k
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// ---- AssetRepo ----

func (s *MemoryStore) UpsertAsset(ctx context.Context, a *models.Asset) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assets {
		if existing.OrgID == a.OrgID && existing.AssetKey == a.AssetKey {
			existing.AssetName = a.AssetName
			existing.ProviderAssetID = a.ProviderAssetID
			existing.DurationSec = a.DurationSec
			existing.UpdatedAt = time.Now().UTC()
			cp := *existing
			return &cp, nil
		}
	}

	now := time.Now().UTC()
	cp := *a
	cp.ID = uuid.New().String()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.assets[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) ListAssets(ctx context.Context, orgID string) ([]*models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*models.Asset
	for _, a := range s.assets {
		if a.OrgID == orgID {
			cp := *a
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AssetName < res[j].AssetName })
	return res, nil
}

// ---- CampaignRepo ----

func (s *MemoryStore) UpsertCampaign(ctx context.Context, orgID, name string) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.campaigns {
		if c.OrgID == orgID && c.Name == name {
			c.UpdatedAt = time.Now().UTC()
			cp := *c
			return &cp, nil
		}
	}

	now := time.Now().UTC()
	c := &models.Campaign{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.campaigns[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) LinkAsset(ctx context.Context, campaignID, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[campaignID+"\x00"+assetID] = struct{}{}
	return nil
}

func (s *MemoryStore) ListCampaigns(ctx context.Context, orgID string) ([]*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*models.Campaign
	for _, c := range s.campaigns {
		if c.OrgID == orgID {
			cp := *c
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// ---- PlayRepo ----

func playKey(p *models.Play) string {
	return p.OrgID + "\x00" + p.KioskID + "\x00" + p.AssetID + "\x00" + p.PlayedAt.UTC().Format(time.RFC3339Nano)
}

func (s *MemoryStore) UpsertPlay(ctx context.Context, p *models.Play) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if existing, ok := s.plays[playKey(p)]; ok {
		cp.ID = existing.ID
	} else if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	s.plays[playKey(p)] = &cp
	return nil
}

// PlayCount reports the number of stored play rows. Test helper.
func (s *MemoryStore) PlayCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plays)
}

func (s *MemoryStore) QueryPlays(ctx context.Context, orgID string, f models.ReportFilter) ([]*models.PlayReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var plays []*models.Play
	for _, p := range s.plays {
		if p.OrgID != orgID {
			continue
		}
		if f.StartDate != nil && p.PlayedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && p.PlayedAt.After(*f.EndDate) {
			continue
		}
		if f.CampaignID != "" && (p.CampaignID == nil || *p.CampaignID != f.CampaignID) {
			continue
		}
		if f.ScreenID != "" && p.KioskID != f.ScreenID {
			continue
		}
		if f.AssetID != "" && p.AssetID != f.AssetID {
			continue
		}
		if f.AccountID != "" {
			if p.CampaignID == nil {
				continue
			}
			c := s.campaigns[*p.CampaignID]
			if c == nil || c.OwnerID != f.AccountID {
				continue
			}
		}
		plays = append(plays, p)
	}
	sort.Slice(plays, func(i, j int) bool { return plays[i].PlayedAt.After(plays[j].PlayedAt) })

	rows := make([]*models.PlayReportRow, 0, len(plays))
	for _, p := range plays {
		row := &models.PlayReportRow{
			ReportDateUTC:   p.PlayedAt.UTC().Format("2006-01-02"),
			StartTimeUTC:    p.PlayedAt.UTC().Format(time.RFC3339),
			DeviceLocalTime: p.PlayedAt.UTC().Format(time.RFC3339),
			CampaignID:      p.CampaignID,
		}
		if k := s.kiosks[p.KioskID]; k != nil {
			row.ScreenUUID = k.ID
			if k.ExternalID != nil {
				row.ScreenUUID = *k.ExternalID
			}
			row.ScreenName = k.Name
		}
		if a := s.assets[p.AssetID]; a != nil {
			row.AssetID = a.ID
			row.AssetName = a.AssetName
			row.AssetTags = a.Tags
		}
		if p.CampaignID != nil {
			if c := s.campaigns[*p.CampaignID]; c != nil {
				row.AccountID = c.OwnerID
			}
		}
		if p.DurationSec != nil {
			row.DurationSec = *p.DurationSec
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ---- BatchRepo ----

func (s *MemoryStore) RecordBatch(ctx context.Context, b *models.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches = append(s.batches, &cp)
	return nil
}

// Batches returns recorded import batches. Test helper.
func (s *MemoryStore) Batches() []*models.ImportBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.ImportBatch, len(s.batches))
	copy(res, s.batches)
	return res
}

// ---- RollupStore ----

func (s *MemoryStore) RefreshDaily(ctx context.Context) ([]DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type dayAgg struct {
		plays    int64
		duration int64
		kiosks   map[string]struct{}
		assets   map[string]struct{}
	}
	agg := make(map[string]*dayAgg)
	for _, p := range s.plays {
		key := p.OrgID + "\x00" + p.PlayedAt.UTC().Format("2006-01-02")
		a, ok := agg[key]
		if !ok {
			a = &dayAgg{kiosks: make(map[string]struct{}), assets: make(map[string]struct{})}
			agg[key] = a
		}
		a.plays++
		if p.DurationSec != nil {
			a.duration += int64(*p.DurationSec)
		}
		a.kiosks[p.KioskID] = struct{}{}
		a.assets[p.AssetID] = struct{}{}
	}

	rollups := make([]DailyRollup, 0, len(agg))
	for key, a := range agg {
		org, day, _ := strings.Cut(key, "\x00")
		rollups = append(rollups, DailyRollup{
			OrgID:            org,
			Day:              day,
			Plays:            a.plays,
			TotalDurationSec: a.duration,
			UniqueKiosks:     int64(len(a.kiosks)),
			UniqueAssets:     int64(len(a.assets)),
		})
	}
	sort.Slice(rollups, func(i, j int) bool {
		if rollups[i].OrgID != rollups[j].OrgID {
			return rollups[i].OrgID < rollups[j].OrgID
		}
		return rollups[i].Day < rollups[j].Day
	})
	return rollups, nil
}
