package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/repository"
)

type Looks struct {
	mu     sync.Mutex
	looks  map[int64]models.Look
	links  map[int64][]models.LookVideo
	nextID int64

	// Users, when set, filters share lists down to known accounts.
	Users *Users
}

func NewLooks() *Looks {
	return &Looks{looks: make(map[int64]models.Look), links: make(map[int64][]models.LookVideo)}
}

func (s *Looks) Create(_ context.Context, look *models.Look) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	look.ID = s.nextID
	if look.Visibility == "" {
		look.Visibility = models.VisibilityPrivate
	}
	look.CreatedAt = time.Now().UTC()
	look.UpdatedAt = look.CreatedAt
	s.looks[look.ID] = *look
	return nil
}

func (s *Looks) Get(_ context.Context, id int64) (*models.Look, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.looks[id]
	if !ok {
		return nil, nil
	}
	l.SharedWith = append([]int64(nil), l.SharedWith...)
	return &l, nil
}

func (s *Looks) List(_ context.Context, f repository.LookFilter) ([]models.Look, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Look
	for _, l := range s.looks {
		switch {
		case f.OwnerID != 0:
			if l.UserID != f.OwnerID {
				continue
			}
		case f.SharedWith != 0:
			if l.UserID == f.SharedWith || l.Visibility != models.VisibilityShared || !slices.Contains(l.SharedWith, f.SharedWith) {
				continue
			}
		case f.PublicOnly:
			if l.Visibility != models.VisibilityPublic {
				continue
			}
		}
		if f.Search != "" && !strings.Contains(l.Title, f.Search) && !strings.Contains(l.Notes, f.Search) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset >= len(out) {
		return nil, nil
	}
	return out[f.Offset:min(f.Offset+f.Limit, len(out))], nil
}

func (s *Looks) Update(_ context.Context, look *models.Look) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.looks[look.ID]
	if !ok {
		return nil
	}
	l.Title, l.Notes, l.ImageURL = look.Title, look.Notes, look.ImageURL
	l.UpdatedAt = time.Now().UTC()
	s.looks[look.ID] = l
	return nil
}

// SetVisibility keeps only ids present in Users, when Users is set.
func (s *Looks) SetVisibility(ctx context.Context, lookID int64, v models.Visibility, userIDs []int64) error {
	var shared []int64
	if v == models.VisibilityShared {
		for _, id := range userIDs {
			if s.Users != nil {
				if u, _ := s.Users.FindByID(ctx, id); u == nil {
					continue
				}
			}
			if !slices.Contains(shared, id) {
				shared = append(shared, id)
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.looks[lookID]
	if !ok {
		return nil
	}
	l.Visibility = v
	l.SharedWith = shared
	l.UpdatedAt = time.Now().UTC()
	s.looks[lookID] = l
	return nil
}

func (s *Looks) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.looks[id]; !ok {
		return false, nil
	}
	delete(s.looks, id)
	delete(s.links, id)
	return true, nil
}

func (s *Looks) Link(_ context.Context, lookID, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lv := range s.links[lookID] {
		if lv.VideoJobID == jobID {
			return nil
		}
	}
	s.links[lookID] = append(s.links[lookID], models.LookVideo{LookID: lookID, VideoJobID: jobID, CreatedAt: time.Now().UTC()})
	return nil
}

func (s *Looks) Unlink(_ context.Context, lookID, jobID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.links[lookID]
	for i, lv := range links {
		if lv.VideoJobID == jobID {
			s.links[lookID] = append(links[:i:i], links[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Looks) ListVideos(_ context.Context, lookID int64) ([]models.LookVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.LookVideo(nil), s.links[lookID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsDefault && !out[j].IsDefault })
	return out, nil
}

func (s *Looks) SetDefault(_ context.Context, lookID, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.links[lookID]
	found := false
	for _, lv := range links {
		if lv.VideoJobID == jobID {
			found = true
		}
	}
	if !found {
		return repository.ErrNotLinked
	}
	for i := range links {
		links[i].IsDefault = links[i].VideoJobID == jobID
	}
	return nil
}

func (s *Looks) UnsetDefault(_ context.Context, lookID, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.links[lookID]
	for i := range links {
		if links[i].VideoJobID == jobID {
			links[i].IsDefault = false
		}
	}
	return nil
}

func (s *Looks) dropJob(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lookID, links := range s.links {
		kept := links[:0]
		for _, lv := range links {
			if lv.VideoJobID != jobID {
				kept = append(kept, lv)
			}
		}
		s.links[lookID] = kept
	}
}

type Users struct {
	mu     sync.Mutex
	users  map[int64]models.User
	nextID int64
}

func NewUsers() *Users {
	return &Users{users: make(map[int64]models.User)}
}

// Add stores an active user with the given role and returns it.
func (s *Users) Add(email string, role models.Role) *models.User {
	u, _ := s.Create(context.Background(), &models.User{Email: email, Role: role, Status: models.AccountActive})
	return u
}

func (s *Users) FindByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Users) Create(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, repository.ErrDuplicate
		}
	}
	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = *user
	return user, nil
}

func (s *Users) ListByStatus(_ context.Context, status models.AccountStatus, limit, offset int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if status == "" || u.Status == status {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (s *Users) SetStatus(_ context.Context, userID int64, status models.AccountStatus) error {
	return s.update(userID, func(u *models.User) { u.Status = status })
}

func (s *Users) SetRole(_ context.Context, userID int64, role models.Role) error {
	return s.update(userID, func(u *models.User) { u.Role = role })
}

func (s *Users) update(userID int64, fn func(u *models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	fn(&u)
	s.users[userID] = u
	return nil
}

type Settings struct {
	mu       sync.Mutex
	rows     map[int64]models.UserSettings
	defaults *models.DefaultSettings
}

func NewSettings() *Settings {
	return &Settings{rows: make(map[int64]models.UserSettings)}
}

func (s *Settings) Get(_ context.Context, userID int64) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *Settings) Upsert(_ context.Context, row *models.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = time.Now().UTC()
	s.rows[row.UserID] = *row
	return nil
}

func (s *Settings) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID)
	return nil
}

func (s *Settings) GetDefaults(_ context.Context) (*models.DefaultSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaults == nil {
		return nil, nil
	}
	d := *s.defaults
	return &d, nil
}

func (s *Settings) UpsertDefaults(_ context.Context, d *models.DefaultSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.UpdatedAt = time.Now().UTC()
	stored := *d
	s.defaults = &stored
	return nil
}

func (s *Settings) DeleteDefaults(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = nil
	return nil
}

// Content is an in-memory content store serving URLs under BaseURL.
type Content struct {
	mu      sync.Mutex
	objects map[string][]byte
	seq     int

	BaseURL string
	PutErr  error
	// FailAfter makes Put fail once this many objects have been stored; 0 disables.
	FailAfter int
}

func NewContent() *Content {
	return &Content{objects: make(map[string][]byte), BaseURL: "https://cdn.test"}
}

func (c *Content) Put(_ context.Context, data []byte, contentType, folder string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PutErr != nil {
		return "", c.PutErr
	}
	if c.FailAfter > 0 && c.seq >= c.FailAfter {
		return "", errors.New("storage unavailable")
	}
	if len(data) == 0 {
		return "", errors.New("no data to upload")
	}
	c.seq++
	url := fmt.Sprintf("%s/%s/%d", c.BaseURL, folder, c.seq)
	c.objects[url] = append([]byte(nil), data...)
	return url, nil
}

func (c *Content) Delete(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.objects[url]; !ok {
		return false, nil
	}
	delete(c.objects, url)
	return true, nil
}

func (c *Content) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[url]
	return ok
}

func (c *Content) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

// Queue records enqueued job ids.
type Queue struct {
	mu  sync.Mutex
	ids []int64

	Err error
}

func (q *Queue) Enqueue(_ context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.ids = append(q.ids, jobID)
	return nil
}

func (q *Queue) IDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.ids...)
}
