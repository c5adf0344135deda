// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/reinsurance-engine/insurance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements insurance.Store. Records are copied on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu          sync.RWMutex
	policies    map[insurance.PolicyID]insurance.Policy
	claims      map[insurance.ClaimID]insurance.Claim
	treaties    map[insurance.TreatyID]insurance.Treaty
	reinsurers  map[insurance.ReinsurerID]insurance.Reinsurer
	allocations map[insurance.PolicyID]insurance.RiskAllocation
	users       map[insurance.UserID]insurance.User

	// Fail, when set, is returned by every call. Used to simulate outages.
	Fail error
}

var _ insurance.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		policies:    make(map[insurance.PolicyID]insurance.Policy),
		claims:      make(map[insurance.ClaimID]insurance.Claim),
		treaties:    make(map[insurance.TreatyID]insurance.Treaty),
		reinsurers:  make(map[insurance.ReinsurerID]insurance.Reinsurer),
		allocations: make(map[insurance.PolicyID]insurance.RiskAllocation),
		users:       make(map[insurance.UserID]insurance.User),
	}
}

func (m *Memory) check(ctx context.Context, op string) error {
	if m.Fail != nil {
		return insurance.Unavailable(op, m.Fail)
	}
	if err := ctx.Err(); err != nil {
		return insurance.Unavailable(op, err)
	}
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) GetPolicy(ctx context.Context, id insurance.PolicyID) (*insurance.Policy, error) {
	if err := m.check(ctx, "get policy"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return nil, &insurance.NotFoundError{Entity: "policy", ID: string(id)}
	}
	return &p, nil
}

func (m *Memory) LastPolicyNumber(ctx context.Context, prefix string) (string, error) {
	if err := m.check(ctx, "last policy number"); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := ""
	for _, p := range m.policies {
		if strings.HasPrefix(p.PolicyNumber, prefix) && p.PolicyNumber > last {
			last = p.PolicyNumber
		}
	}
	return last, nil
}

func (m *Memory) InsertPolicy(ctx context.Context, p *insurance.Policy) error {
	if err := m.check(ctx, "insert policy"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.policies {
		if existing.PolicyNumber == p.PolicyNumber {
			return insurance.ErrDuplicateNumber
		}
	}
	if _, ok := m.policies[p.ID]; ok {
		return insurance.ErrConflict
	}
	m.policies[p.ID] = *p
	return nil
}

func (m *Memory) UpdatePolicy(ctx context.Context, p *insurance.Policy, expected insurance.PolicyStatus) error {
	if err := m.check(ctx, "update policy"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.policies[p.ID]
	if !ok {
		return &insurance.NotFoundError{Entity: "policy", ID: string(p.ID)}
	}
	if current.Status != expected {
		return insurance.ErrConcurrentModification
	}
	m.policies[p.ID] = *p
	return nil
}

func (m *Memory) ListPolicies(ctx context.Context, filter insurance.PolicyFilter) ([]insurance.Policy, error) {
	if err := m.check(ctx, "list policies"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []insurance.Policy
	for _, p := range m.policies {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.LineOfBusiness != nil && p.LineOfBusiness != *filter.LineOfBusiness {
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PolicyNumber < result[j].PolicyNumber })
	return result, nil
}

// =============================================================================
// CLAIMS
// =============================================================================

func (m *Memory) GetClaim(ctx context.Context, id insurance.ClaimID) (*insurance.Claim, error) {
	if err := m.check(ctx, "get claim"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[id]
	if !ok {
		return nil, &insurance.NotFoundError{Entity: "claim", ID: string(id)}
	}
	return &c, nil
}

func (m *Memory) LastClaimNumber(ctx context.Context, prefix string) (string, error) {
	if err := m.check(ctx, "last claim number"); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := ""
	for _, c := range m.claims {
		if strings.HasPrefix(c.ClaimNumber, prefix) && c.ClaimNumber > last {
			last = c.ClaimNumber
		}
	}
	return last, nil
}

func (m *Memory) InsertClaim(ctx context.Context, c *insurance.Claim) error {
	if err := m.check(ctx, "insert claim"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.claims {
		if existing.ClaimNumber == c.ClaimNumber {
			return insurance.ErrDuplicateNumber
		}
	}
	if _, ok := m.claims[c.ID]; ok {
		return insurance.ErrConflict
	}
	m.claims[c.ID] = *c
	return nil
}

func (m *Memory) UpdateClaim(ctx context.Context, c *insurance.Claim, expected insurance.ClaimStatus) error {
	if err := m.check(ctx, "update claim"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.claims[c.ID]
	if !ok {
		return &insurance.NotFoundError{Entity: "claim", ID: string(c.ID)}
	}
	if current.Status != expected {
		return insurance.ErrConcurrentModification
	}
	m.claims[c.ID] = *c
	return nil
}

// =============================================================================
// TREATIES & REINSURERS
// =============================================================================

func (m *Memory) GetTreaty(ctx context.Context, id insurance.TreatyID) (*insurance.Treaty, error) {
	if err := m.check(ctx, "get treaty"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.treaties[id]
	if !ok {
		return nil, &insurance.NotFoundError{Entity: "treaty", ID: string(id)}
	}
	t.ApplicableLOBs = append([]insurance.LineOfBusiness(nil), t.ApplicableLOBs...)
	return &t, nil
}

func (m *Memory) InsertTreaty(ctx context.Context, t *insurance.Treaty) error {
	if err := m.check(ctx, "insert treaty"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.treaties[t.ID]; ok {
		return insurance.ErrConflict
	}
	stored := *t
	stored.ApplicableLOBs = append([]insurance.LineOfBusiness(nil), t.ApplicableLOBs...)
	m.treaties[t.ID] = stored
	return nil
}

func (m *Memory) UpdateTreaty(ctx context.Context, t *insurance.Treaty) error {
	if err := m.check(ctx, "update treaty"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.treaties[t.ID]; !ok {
		return &insurance.NotFoundError{Entity: "treaty", ID: string(t.ID)}
	}
	stored := *t
	stored.ApplicableLOBs = append([]insurance.LineOfBusiness(nil), t.ApplicableLOBs...)
	m.treaties[t.ID] = stored
	return nil
}

func (m *Memory) ListTreaties(ctx context.Context, filter insurance.TreatyFilter) ([]insurance.Treaty, error) {
	if err := m.check(ctx, "list treaties"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []insurance.Treaty
	for _, t := range m.treaties {
		if !filter.Matches(&t) {
			continue
		}
		t.ApplicableLOBs = append([]insurance.LineOfBusiness(nil), t.ApplicableLOBs...)
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetReinsurer(ctx context.Context, id insurance.ReinsurerID) (*insurance.Reinsurer, error) {
	if err := m.check(ctx, "get reinsurer"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reinsurers[id]
	if !ok {
		return nil, &insurance.NotFoundError{Entity: "reinsurer", ID: string(id)}
	}
	return &r, nil
}

func (m *Memory) GetReinsurerByCode(ctx context.Context, code string) (*insurance.Reinsurer, error) {
	if err := m.check(ctx, "get reinsurer by code"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.reinsurers {
		if r.Code == code {
			return &r, nil
		}
	}
	return nil, &insurance.NotFoundError{Entity: "reinsurer", ID: code}
}

func (m *Memory) InsertReinsurer(ctx context.Context, r *insurance.Reinsurer) error {
	if err := m.check(ctx, "insert reinsurer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reinsurers {
		if existing.Code == r.Code {
			return insurance.ErrConflict
		}
	}
	if _, ok := m.reinsurers[r.ID]; ok {
		return insurance.ErrConflict
	}
	m.reinsurers[r.ID] = *r
	return nil
}

func (m *Memory) UpdateReinsurer(ctx context.Context, r *insurance.Reinsurer) error {
	if err := m.check(ctx, "update reinsurer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reinsurers[r.ID]; !ok {
		return &insurance.NotFoundError{Entity: "reinsurer", ID: string(r.ID)}
	}
	for _, existing := range m.reinsurers {
		if existing.Code == r.Code && existing.ID != r.ID {
			return insurance.ErrConflict
		}
	}
	m.reinsurers[r.ID] = *r
	return nil
}

func (m *Memory) ListReinsurers(ctx context.Context, status *insurance.ReinsurerStatus) ([]insurance.Reinsurer, error) {
	if err := m.check(ctx, "list reinsurers"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []insurance.Reinsurer
	for _, r := range m.reinsurers {
		if status != nil && r.Status != *status {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (m *Memory) GetAllocation(ctx context.Context, policyID insurance.PolicyID) (*insurance.RiskAllocation, error) {
	if err := m.check(ctx, "get allocation"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.allocations[policyID]
	if !ok {
		return nil, &insurance.NotFoundError{Entity: "risk allocation", ID: string(policyID)}
	}
	a.Allocations = append([]insurance.TreatyAllocation(nil), a.Allocations...)
	return &a, nil
}

func (m *Memory) UpsertAllocation(ctx context.Context, a *insurance.RiskAllocation) error {
	if err := m.check(ctx, "upsert allocation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *a
	stored.Allocations = append([]insurance.TreatyAllocation(nil), a.Allocations...)
	m.allocations[a.PolicyID] = stored
	return nil
}

func (m *Memory) DeleteAllocation(ctx context.Context, policyID insurance.PolicyID) error {
	if err := m.check(ctx, "delete allocation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.allocations, policyID)
	return nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) GetUser(ctx context.Context, id insurance.UserID) (*insurance.User, error) {
	if err := m.check(ctx, "get user"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, &insurance.NotFoundError{Entity: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*insurance.User, error) {
	if err := m.check(ctx, "get user by email"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, &insurance.NotFoundError{Entity: "user", ID: email}
}

func (m *Memory) InsertUser(ctx context.Context, u *insurance.User) error {
	if err := m.check(ctx, "insert user"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) || existing.Username == u.Username {
			return insurance.ErrConflict
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) UpdateUser(ctx context.Context, u *insurance.User) error {
	if err := m.check(ctx, "update user"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; !ok {
		return &insurance.NotFoundError{Entity: "user", ID: string(u.ID)}
	}
	for id, existing := range m.users {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(existing.Email, u.Email) || existing.Username == u.Username {
			return insurance.ErrConflict
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) ListUsers(ctx context.Context, filter insurance.UserFilter) ([]insurance.User, error) {
	if err := m.check(ctx, "list users"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []insurance.User
	for _, u := range m.users {
		if filter.Matches(&u) {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) TouchLogin(ctx context.Context, id insurance.UserID, at time.Time) error {
	if err := m.check(ctx, "touch login"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return &insurance.NotFoundError{Entity: "user", ID: string(id)}
	}
	u.LastLoginAt = &at
	m.users[id] = u
	return nil
}

// =============================================================================
// REPORTS
// =============================================================================

func (m *Memory) ExposureByLine(ctx context.Context) ([]insurance.LineExposure, error) {
	if err := m.check(ctx, "exposure by line"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byLine := map[insurance.LineOfBusiness]*insurance.LineExposure{}
	for _, p := range m.policies {
		if p.Status != insurance.PolicyActive {
			continue
		}
		e, ok := byLine[p.LineOfBusiness]
		if !ok {
			e = &insurance.LineExposure{
				LineOfBusiness: p.LineOfBusiness,
				TotalExposure:  insurance.ZeroAmount(),
				TotalPremium:   insurance.ZeroAmount(),
			}
			byLine[p.LineOfBusiness] = e
		}
		e.TotalExposure = e.TotalExposure.Add(p.SumInsured)
		e.TotalPremium = e.TotalPremium.Add(p.Premium)
		e.Count++
	}

	result := make([]insurance.LineExposure, 0, len(byLine))
	for _, e := range byLine {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TotalExposure.Equal(result[j].TotalExposure) {
			return result[i].TotalExposure.GreaterThan(result[j].TotalExposure)
		}
		return result[i].LineOfBusiness < result[j].LineOfBusiness
	})
	return result, nil
}

func (m *Memory) PremiumTotal(ctx context.Context, status insurance.PolicyStatus) (insurance.Amount, error) {
	if err := m.check(ctx, "premium total"); err != nil {
		return insurance.Amount{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := insurance.ZeroAmount()
	for _, p := range m.policies {
		if p.Status == status {
			total = total.Add(p.Premium)
		}
	}
	return total, nil
}

func (m *Memory) ApprovedClaimsTotal(ctx context.Context) (insurance.Amount, error) {
	if err := m.check(ctx, "approved claims total"); err != nil {
		return insurance.Amount{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := insurance.ZeroAmount()
	for _, c := range m.claims {
		if c.Status.Pays() && c.ApprovedAmount != nil {
			total = total.Add(*c.ApprovedAmount)
		}
	}
	return total, nil
}

func (m *Memory) AllocatedByReinsurer(ctx context.Context) ([]insurance.ReinsurerExposure, error) {
	if err := m.check(ctx, "allocated by reinsurer"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byReinsurer := map[insurance.ReinsurerID]*insurance.ReinsurerExposure{}
	for _, a := range m.allocations {
		for _, ta := range a.Allocations {
			e, ok := byReinsurer[ta.ReinsurerID]
			if !ok {
				e = &insurance.ReinsurerExposure{ReinsurerID: ta.ReinsurerID, TotalAllocated: insurance.ZeroAmount()}
				if r, found := m.reinsurers[ta.ReinsurerID]; found {
					e.ReinsurerName = r.Name
					e.ReinsurerCode = r.Code
				}
				byReinsurer[ta.ReinsurerID] = e
			}
			e.TotalAllocated = e.TotalAllocated.Add(ta.AllocatedAmount)
			e.PolicyCount++
		}
	}

	result := make([]insurance.ReinsurerExposure, 0, len(byReinsurer))
	for _, e := range byReinsurer {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TotalAllocated.Equal(result[j].TotalAllocated) {
			return result[i].TotalAllocated.GreaterThan(result[j].TotalAllocated)
		}
		return result[i].ReinsurerID < result[j].ReinsurerID
	})
	return result, nil
}

func (m *Memory) ApprovedClaimsByMonth(ctx context.Context, since time.Time) ([]insurance.MonthlyClaims, error) {
	if err := m.check(ctx, "approved claims by month"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type month struct {
		year int
		mon  time.Month
	}
	byMonth := map[month]*insurance.MonthlyClaims{}
	for _, c := range m.claims {
		if !c.Status.Pays() || c.ApprovedAmount == nil || c.CreatedAt.Before(since) {
			continue
		}
		k := month{c.CreatedAt.UTC().Year(), c.CreatedAt.UTC().Month()}
		e, ok := byMonth[k]
		if !ok {
			e = &insurance.MonthlyClaims{Year: k.year, Month: k.mon, TotalApproved: insurance.ZeroAmount()}
			byMonth[k] = e
		}
		e.TotalApproved = e.TotalApproved.Add(*c.ApprovedAmount)
		e.Count++
	}

	result := make([]insurance.MonthlyClaims, 0, len(byMonth))
	for _, e := range byMonth {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year < result[j].Year
		}
		return result[i].Month < result[j].Month
	})
	return result, nil
}
