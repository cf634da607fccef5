package service

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/xxxsen/onboard/internal/event"
	"github.com/xxxsen/onboard/internal/mailer"
	"github.com/xxxsen/onboard/internal/model"
	appErr "github.com/xxxsen/onboard/internal/pkg/errors"
	"github.com/xxxsen/onboard/internal/repo"
)

type memState struct {
	tokens   []model.VerificationToken
	accounts map[model.Partition]map[string]model.Account
	projects map[string]model.Project
	members  []model.ProjectMember
}

func newMemState() *memState {
	return &memState{
		accounts: map[model.Partition]map[string]model.Account{
			model.PartitionClient: {},
			model.PartitionStaff:  {},
			model.PartitionTeam:   {},
		},
		projects: map[string]model.Project{},
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	out.tokens = append(out.tokens, s.tokens...)
	for part, rows := range s.accounts {
		for k, v := range rows {
			out.accounts[part][k] = v
		}
	}
	for k, v := range s.projects {
		out.projects[k] = v
	}
	out.members = append(out.members, s.members...)
	return out
}

// memManager is an in-memory repo.Manager. Transactions are serialized and
// roll back by restoring a snapshot.
type memManager struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *memState

	commitHook func(store repo.Store) error
}

func newMemManager() *memManager {
	return &memManager{st: newMemState()}
}

func (m *memManager) Tokens() repo.TokenStore     { return memTokens{m} }
func (m *memManager) Accounts() repo.AccountStore { return memAccounts{m} }
func (m *memManager) Projects() repo.ProjectStore { return memProjects{m} }

func (m *memManager) Ping(ctx context.Context) error { return nil }

func (m *memManager) InTx(ctx context.Context, fn func(store repo.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()
	err := fn(m)
	if err == nil && m.commitHook != nil {
		err = m.commitHook(m)
	}
	if err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
	}
	return err
}

func (m *memManager) countAccounts(part model.Partition) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.accounts[part])
}

func (m *memManager) account(part model.Partition, email string) (model.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.accounts[part][email]
	return a, ok
}

func (m *memManager) tokens(email, flow string) []model.VerificationToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VerificationToken
	for _, t := range m.st.tokens {
		if t.Email == email && t.Flow == flow {
			out = append(out, t)
		}
	}
	return out
}

func (m *memManager) counts() (projects, members int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.projects), len(m.st.members)
}

type memTokens struct{ m *memManager }

func active(t *model.VerificationToken) bool {
	return !t.Verified && !t.Superseded
}

func (r memTokens) Create(ctx context.Context, token *model.VerificationToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	// mirrors the two partial unique indexes on active tokens
	for i := range r.m.st.tokens {
		t := &r.m.st.tokens[i]
		if !active(t) || t.Email != token.Email {
			continue
		}
		if t.SessionID == token.SessionID || t.Flow == token.Flow {
			return appErr.ErrConflict
		}
	}
	r.m.st.tokens = append(r.m.st.tokens, *token)
	return nil
}

func (r memTokens) Latest(ctx context.Context, email, flow string) (*model.VerificationToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var rows []model.VerificationToken
	for _, t := range r.m.st.tokens {
		if t.Email == email && t.Flow == flow {
			rows = append(rows, t)
		}
	}
	if len(rows) == 0 {
		return nil, appErr.ErrNotFound
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Ctime != rows[j].Ctime {
			return rows[i].Ctime > rows[j].Ctime
		}
		return rows[i].Attempts > rows[j].Attempts
	})
	out := rows[0]
	return &out, nil
}

func (r memTokens) Supersede(ctx context.Context, email, flow string, now int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for i := range r.m.st.tokens {
		t := &r.m.st.tokens[i]
		if active(t) && t.Email == email && t.Flow == flow {
			t.Superseded = true
			t.Mtime = now
			n++
		}
	}
	return n, nil
}

func (r memTokens) Consume(ctx context.Context, q repo.ConsumeQuery, now int64) (*model.VerificationToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.st.tokens {
		t := &r.m.st.tokens[i]
		if !active(t) || t.Email != q.Email || t.Flow != q.Flow || t.CodeHash != q.CodeHash {
			continue
		}
		if q.SessionID != "" && t.SessionID != q.SessionID {
			continue
		}
		if t.ExpiresAt <= now || t.Failures >= q.MaxFailures {
			continue
		}
		t.Verified = true
		t.Mtime = now
		out := *t
		return &out, nil
	}
	return nil, appErr.ErrNotFound
}

func (r memTokens) FindVerified(ctx context.Context, email, flow, sessionID, codeHash string) (*model.VerificationToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.st.tokens {
		if t.Verified && t.Email == email && t.Flow == flow && t.CodeHash == codeHash &&
			(sessionID == "" || t.SessionID == sessionID) {
			out := t
			return &out, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (r memTokens) RecordFailure(ctx context.Context, email, flow, sessionID string, now int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for i := range r.m.st.tokens {
		t := &r.m.st.tokens[i]
		if active(t) && t.Email == email && t.Flow == flow && t.ExpiresAt > now &&
			(sessionID == "" || t.SessionID == sessionID) {
			t.Failures++
			t.Mtime = now
			n++
		}
	}
	return n, nil
}

func (r memTokens) DeleteByEmail(ctx context.Context, email, flow string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	kept := r.m.st.tokens[:0]
	var n int64
	for _, t := range r.m.st.tokens {
		if t.Email == email && t.Flow == flow {
			n++
			continue
		}
		kept = append(kept, t)
	}
	r.m.st.tokens = kept
	return n, nil
}

func (r memTokens) DeleteExpired(ctx context.Context, before int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	kept := r.m.st.tokens[:0]
	var n int64
	for _, t := range r.m.st.tokens {
		if t.ExpiresAt < before {
			n++
			continue
		}
		kept = append(kept, t)
	}
	r.m.st.tokens = kept
	return n, nil
}

type memAccounts struct{ m *memManager }

func (r memAccounts) Upsert(ctx context.Context, account *model.Account) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows := r.m.st.accounts[account.Partition]
	if rows == nil {
		return "", appErr.ErrInvalid
	}
	cur, ok := rows[account.Email]
	if !ok {
		stored := *account
		stored.Mtime = account.Ctime
		stored.VerifiedAt = 0
		if account.Verified {
			stored.VerifiedAt = account.Ctime
		}
		rows[account.Email] = stored
		return stored.ID, nil
	}
	if account.Name != "" {
		cur.Name = account.Name
	}
	if account.CompanyName != "" {
		cur.CompanyName = account.CompanyName
	}
	if account.Phone != "" {
		cur.Phone = account.Phone
	}
	if account.PasswordHash != "" {
		cur.PasswordHash = account.PasswordHash
	}
	cur.Verified = cur.Verified || account.Verified
	if cur.VerifiedAt == 0 && account.Verified {
		cur.VerifiedAt = account.Ctime
	}
	cur.Mtime = account.Ctime
	rows[account.Email] = cur
	return cur.ID, nil
}

func (r memAccounts) GetByEmail(ctx context.Context, partition model.Partition, email string) (*model.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.st.accounts[partition][email]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &a, nil
}

func (r memAccounts) GetByID(ctx context.Context, partition model.Partition, id string) (*model.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.st.accounts[partition] {
		if a.ID == id {
			out := a
			return &out, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (r memAccounts) SetPassword(ctx context.Context, partition model.Partition, email, passwordHash string, markVerified bool, now int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.st.accounts[partition][email]
	if !ok {
		return 0, nil
	}
	a.PasswordHash = passwordHash
	if markVerified {
		a.Verified = true
		a.VerifiedAt = now
	}
	a.Mtime = now
	r.m.st.accounts[partition][email] = a
	return 1, nil
}

func (r memAccounts) SetVerified(ctx context.Context, partition model.Partition, email string, verified bool, now int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.st.accounts[partition][email]
	if !ok {
		return 0, nil
	}
	a.Verified = verified
	if verified {
		a.VerifiedAt = now
	}
	a.Mtime = now
	r.m.st.accounts[partition][email] = a
	return 1, nil
}

func (r memAccounts) DeleteUnverified(ctx context.Context, partition model.Partition, email string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.st.accounts[partition][email]
	if !ok || a.EverVerified() {
		return 0, nil
	}
	delete(r.m.st.accounts[partition], email)
	return 1, nil
}

func (r memAccounts) DeleteUnverifiedOrphans(ctx context.Context, partition model.Partition, emails []string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, email := range emails {
		a, ok := r.m.st.accounts[partition][email]
		if !ok || a.EverVerified() {
			continue
		}
		member := false
		for _, pm := range r.m.st.members {
			if pm.Email == email {
				member = true
				break
			}
		}
		if member {
			continue
		}
		delete(r.m.st.accounts[partition], email)
		n++
	}
	return n, nil
}

type memProjects struct{ m *memManager }

func (r memProjects) Ensure(ctx context.Context, project *model.Project) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.st.projects {
		if p.Name == project.Name && p.ClientID == project.ClientID {
			return p.ID, nil
		}
	}
	r.m.st.projects[project.ID] = *project
	return project.ID, nil
}

func (r memProjects) AddMember(ctx context.Context, member *model.ProjectMember) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, pm := range r.m.st.members {
		if pm.ProjectID == member.ProjectID && pm.Email == member.Email && pm.Role == member.Role {
			return false, nil
		}
	}
	r.m.st.members = append(r.m.st.members, *member)
	return true, nil
}

func (r memProjects) ListByClient(ctx context.Context, clientID string) ([]*model.Project, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*model.Project
	for _, p := range r.m.st.projects {
		if p.ClientID == clientID {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memProjects) RemoveMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var removed []*model.ProjectMember
	kept := r.m.st.members[:0]
	for _, pm := range r.m.st.members {
		if pm.ProjectID == projectID {
			cp := pm
			removed = append(removed, &cp)
			continue
		}
		kept = append(kept, pm)
	}
	r.m.st.members = kept
	return removed, nil
}

func (r memProjects) Delete(ctx context.Context, projectID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.st.projects[projectID]; !ok {
		return 0, nil
	}
	delete(r.m.st.projects, projectID)
	return 1, nil
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

var codePattern = regexp.MustCompile(`code is (\d+)`)

// lastCode returns the most recent code mailed to an address.
func (s *fakeSender) lastCode(to string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].To != to {
			continue
		}
		if m := codePattern.FindStringSubmatch(s.msgs[i].Text); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *fakePublisher) Publish(ctx context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var _ repo.Manager = (*memManager)(nil)
