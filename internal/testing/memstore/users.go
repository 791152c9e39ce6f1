package memstore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/odyssey-erp/roleterms/internal/legacy"
	"github.com/odyssey-erp/roleterms/internal/users"
)

type metaKey struct {
	userID   int64
	tenantID int64
	key      string
}

type post struct {
	tenantID int64
	authorID int64
	status   string
}

// Users is an in-memory users.RepositoryPort. Term clauses on a query are
// evaluated against Terms.
type Users struct {
	mu    sync.Mutex
	users map[int64]users.User
	meta  map[metaKey]string
	posts []post

	Terms *Taxonomy

	PageRequests  []users.PageRequest
	GetCalls      int
	AttributeRead int
	CountCalls    int
}

// NewUsers returns an empty store evaluating term clauses against terms.
func NewUsers(terms *Taxonomy) *Users {
	return &Users{users: make(map[int64]users.User), meta: make(map[metaKey]string), Terms: terms}
}

var _ users.RepositoryPort = (*Users)(nil)

// AddUser stores the account fields of u.
func (s *Users) AddUser(u users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Roles = nil
	u.Level = nil
	u.TenantID = 0
	s.users[u.ID] = u
}

// SetMeta stores a raw attribute value.
func (s *Users) SetMeta(tenantID, userID int64, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[metaKey{userID: userID, tenantID: tenantID, key: key}] = value
}

// Meta returns a raw attribute value.
func (s *Users) Meta(tenantID, userID int64, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.meta[metaKey{userID: userID, tenantID: tenantID, key: key}]
	return v, ok
}

// AddPost records a post by authorID.
func (s *Users) AddPost(tenantID, authorID int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, post{tenantID: tenantID, authorID: authorID, status: status})
}

func (s *Users) members(tenantID int64) []int64 {
	var ids []int64
	for id := range s.users {
		if _, ok := s.meta[metaKey{userID: id, tenantID: tenantID, key: legacy.KeyCapabilities}]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PageUserIDs implements users.RepositoryPort.
func (s *Users) PageUserIDs(_ context.Context, req users.PageRequest) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PageRequests = append(s.PageRequests, req)
	ids := s.members(req.TenantID)
	if req.Offset >= len(ids) {
		return nil, nil
	}
	ids = ids[req.Offset:]
	if req.PageSize > 0 && len(ids) > req.PageSize {
		ids = ids[:req.PageSize]
	}
	return append([]int64(nil), ids...), nil
}

// CountMembers implements users.RepositoryPort.
func (s *Users) CountMembers(_ context.Context, tenantID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.members(tenantID))), nil
}

// GetUser implements users.RepositoryPort.
func (s *Users) GetUser(_ context.Context, tenantID, id int64) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	u.TenantID = tenantID
	if raw, ok := s.meta[metaKey{userID: id, tenantID: tenantID, key: legacy.KeyCapabilities}]; ok {
		caps, err := legacy.DecodeCapabilities(raw)
		if errors.Is(err, legacy.ErrMalformed) {
			u.RolesMalformed = true
		} else {
			u.Roles = caps.Names()
		}
	}
	if raw, ok := s.meta[metaKey{userID: id, tenantID: tenantID, key: legacy.KeyUserLevel}]; ok {
		if lvl, ok := legacy.ParseLevel(raw); ok {
			u.Level = &lvl
		}
	}
	return u, nil
}

// Attribute implements users.RepositoryPort.
func (s *Users) Attribute(_ context.Context, tenantID, userID int64, key string) (string, bool, error) {
	v, ok := s.Meta(tenantID, userID, key)
	return v, ok, nil
}

// AttributeRows implements users.RepositoryPort.
func (s *Users) AttributeRows(_ context.Context, tenantID int64, userIDs []int64, key string) ([]users.AttributeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AttributeRead++
	var rows []users.AttributeRow
	for _, id := range userIDs {
		if v, ok := s.meta[metaKey{userID: id, tenantID: tenantID, key: key}]; ok {
			rows = append(rows, users.AttributeRow{UserID: id, Value: v})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows, nil
}

// SaveAttributes implements users.RepositoryPort.
func (s *Users) SaveAttributes(_ context.Context, tenantID, userID int64, capabilities string, level *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[metaKey{userID: userID, tenantID: tenantID, key: legacy.KeyCapabilities}] = capabilities
	levelKey := metaKey{userID: userID, tenantID: tenantID, key: legacy.KeyUserLevel}
	if level == nil {
		delete(s.meta, levelKey)
		return nil
	}
	s.meta[levelKey] = strconv.Itoa(*level)
	return nil
}

// DeleteTenantAttributes implements users.RepositoryPort.
func (s *Users) DeleteTenantAttributes(_ context.Context, tenantID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, metaKey{userID: userID, tenantID: tenantID, key: legacy.KeyCapabilities})
	delete(s.meta, metaKey{userID: userID, tenantID: tenantID, key: legacy.KeyUserLevel})
	return nil
}

// SelectUserIDs implements users.RepositoryPort by evaluating q directly.
func (s *Users) SelectUserIDs(_ context.Context, q *users.Query, _ *users.QuerySQL) ([]int64, error) {
	ids := s.matching(q)
	if q.Offset > 0 {
		if q.Offset >= len(ids) {
			return nil, nil
		}
		ids = ids[q.Offset:]
	}
	if q.Number > 0 && len(ids) > q.Number {
		ids = ids[:q.Number]
	}
	return ids, nil
}

// CountUserIDs implements users.RepositoryPort.
func (s *Users) CountUserIDs(_ context.Context, q *users.Query, _ *users.QuerySQL) (int64, error) {
	s.mu.Lock()
	s.CountCalls++
	s.mu.Unlock()
	return int64(len(s.matching(q))), nil
}

func (s *Users) matching(q *users.Query) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, u := range s.users {
		if s.match(q, u) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if strings.EqualFold(q.Order, "DESC") {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	return ids
}

func (s *Users) match(q *users.Query, u users.User) bool {
	if q.TenantID != 0 || q.Role != "" || len(q.RoleIn) > 0 || len(q.RoleNotIn) > 0 {
		raw, ok := s.meta[metaKey{userID: u.ID, tenantID: q.TenantID, key: legacy.KeyCapabilities}]
		if !ok {
			return false
		}
		caps, err := legacy.DecodeCapabilities(raw)
		if err != nil {
			return false
		}
		if !legacyRolesMatch(q, caps.Names()) {
			return false
		}
	}
	if q.Who == users.WhoAuthors {
		if v, ok := s.meta[metaKey{userID: u.ID, tenantID: q.TenantID, key: legacy.KeyUserLevel}]; !ok || v == "0" {
			return false
		}
	}
	if len(q.Include) > 0 && !containsID(q.Include, u.ID) {
		return false
	}
	if containsID(q.Exclude, u.ID) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(strings.Trim(q.Search, "*"))
		hay := strings.ToLower(u.Login + " " + u.Nicename + " " + u.DisplayName + " " + u.Email)
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	if q.MetaKey != "" && !s.hasMeta(u.ID, q.MetaKey, q.MetaValue) {
		return false
	}
	if q.HasPublishedPosts {
		tenantID := q.TenantID
		if q.Shadow != nil {
			tenantID = q.Shadow.TenantID
		}
		if !s.published(u.ID, tenantID) {
			return false
		}
	}
	if !stringFilter(u.Nicename, q.Nicename, q.NicenameIn, q.NicenameNotIn) ||
		!stringFilter(u.Login, q.Login, q.LoginIn, q.LoginNotIn) {
		return false
	}
	for _, c := range q.TermClauses {
		if !c.Resolved {
			continue
		}
		if !c.Match(s.Terms.AssignedTermIDs(c.TenantID, u.ID, c.Namespace)) {
			return false
		}
	}
	return true
}

func legacyRolesMatch(q *users.Query, roles []string) bool {
	has := func(role string) bool {
		for _, r := range roles {
			if r == role {
				return true
			}
		}
		return false
	}
	if q.Role != "" && !has(q.Role) {
		return false
	}
	if len(q.RoleIn) > 0 {
		found := false
		for _, r := range q.RoleIn {
			found = found || has(r)
		}
		if !found {
			return false
		}
	}
	for _, r := range q.RoleNotIn {
		if has(r) {
			return false
		}
	}
	return true
}

func (s *Users) hasMeta(userID int64, key, value string) bool {
	for k, v := range s.meta {
		if k.userID == userID && k.key == key && (value == "" || v == value) {
			return true
		}
	}
	return false
}

func (s *Users) published(userID, tenantID int64) bool {
	for _, p := range s.posts {
		if p.authorID == userID && p.status == "publish" && (tenantID == 0 || p.tenantID == tenantID) {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func stringFilter(value, eq string, in, notIn []string) bool {
	if eq != "" && value != eq {
		return false
	}
	if len(in) > 0 {
		found := false
		for _, v := range in {
			found = found || v == value
		}
		if !found {
			return false
		}
	}
	for _, v := range notIn {
		if v == value {
			return false
		}
	}
	return true
}
