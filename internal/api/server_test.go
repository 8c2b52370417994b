package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/lookstudio/internal/auth"
	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/service"
	"github.com/digkill/lookstudio/internal/testutil"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// stubGenerator answers every synchronous generation call with canned output.
type stubGenerator struct{}

func (stubGenerator) GenerateImage(context.Context, kie.ImageRequest) (*kie.Image, error) {
	return &kie.Image{URL: "https://kie.test/out.png"}, nil
}

func (stubGenerator) GenerateText(_ context.Context, req kie.TextRequest) (*kie.TextResult, error) {
	if req.JSON {
		return &kie.TextResult{Text: `{"images":` + strconv.Itoa(len(req.ImageURLs)) + `}`}, nil
	}
	return &kie.TextResult{Text: "echo: " + req.Prompt}, nil
}

type apiHarness struct {
	srv      *httptest.Server
	verifier *auth.Verifier
	users    *testutil.Users
	ledger   *testutil.Ledger
	jobs     *testutil.Jobs
	looks    *testutil.Looks
	queue    *testutil.Queue
	user     *models.User
	admin    *models.User
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	h := &apiHarness{
		users:  testutil.NewUsers(),
		ledger: testutil.NewLedger(),
		jobs:   testutil.NewJobs(),
		looks:  testutil.NewLooks(),
		queue:  &testutil.Queue{},
	}
	h.jobs.Looks = h.looks
	h.user = h.users.Add("ana@example.com", models.RoleUser)
	h.admin = h.users.Add("root@example.com", models.RoleAdmin)
	h.verifier = auth.NewVerifier("test-secret", h.users)

	content := testutil.NewContent()
	tokens := service.NewTokenService(h.ledger, nil)
	svc := Services{
		Tokens:     tokens,
		Videos:     service.NewVideoService(tokens, h.jobs, h.looks, content, h.queue, "veo3_fast", nil),
		Looks:      service.NewLookService(h.looks, content, nil),
		Generation: service.NewGenerationService(tokens, content, stubGenerator{}, nil),
		Users:      service.NewUserService(h.users, nil),
		Settings:   service.NewSettingsService(testutil.NewSettings(), "veo3_fast"),
	}
	server := NewServer(Options{MaxUploadBytes: 1 << 20}, h.verifier, svc, nil)
	h.srv = httptest.NewServer(server.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := h.verifier.Issue(u.ID, u.Role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *apiHarness) do(t *testing.T, as *models.User, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+"/api/v1"+path, body)
	require.NoError(t, err)
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, as))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *apiHarness) doJSON(t *testing.T, as *models.User, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return h.do(t, as, method, path, body, "application/json")
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type formFileSpec struct {
	field, name, contentType string
	data                     []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFileSpec) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		if f.contentType != "" {
			hdr.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthIsPublic(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.do(t, nil, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, nil, http.MethodGet, "/subscription/info", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "unauthorized", string(body.Error.Kind))

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/v1/subscription/info", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	suspended := h.users.Add("gone@example.com", models.RoleUser)
	require.NoError(t, h.users.SetStatus(context.Background(), suspended.ID, models.AccountSuspended))
	resp = h.do(t, suspended, http.MethodGet, "/subscription/info", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSubscriptionInfoCreatesFreeTier(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.do(t, h.user, http.MethodGet, "/subscription/info", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "free", body["tier"])
	assert.EqualValues(t, 100, body["availableTokens"])
	assert.Equal(t, false, body["unlimited"])
}

func TestConsume(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.doJSON(t, h.user, http.MethodPost, "/subscription/consume",
		map[string]string{"operation": "video_generation", "description": "runway clip"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[service.ConsumeResult](t, resp)
	assert.True(t, res.Success)
	assert.Equal(t, 10, res.Cost)
	assert.Equal(t, 90, res.AvailableTokens)

	resp = h.doJSON(t, h.user, http.MethodPost, "/subscription/consume", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Contains(t, body.Error.Details, "operation is required")
}

func TestConsumeShortfallIsNotAnError(t *testing.T) {
	h := newAPIHarness(t)
	sub := models.NewSubscription(h.user.ID, models.TierFree, time.Now())
	sub.AvailableTokens = 5
	h.ledger.Put(*sub)

	resp := h.doJSON(t, h.user, http.MethodPost, "/subscription/consume",
		map[string]string{"operation": "video_generation"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[service.ConsumeResult](t, resp)
	assert.False(t, res.Success)
	assert.Equal(t, 5, res.AvailableTokens)
}

func TestSubmitVideo(t *testing.T) {
	h := newAPIHarness(t)

	body, ct := multipartBody(t,
		map[string]string{"prompt": "slow pan over a linen suit", "aspectRatio": "9:16", "durationSeconds": "8"},
		formFileSpec{field: "initialImage", name: "a.png", data: pngHeader},
	)
	resp := h.do(t, h.user, http.MethodPost, "/video-jobs", body, ct)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	job := decodeBody[models.VideoJob](t, resp)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, "9:16", job.AspectRatio)
	assert.NotEmpty(t, job.InputImageURL)
	assert.Equal(t, []int64{job.ID}, h.queue.IDs())

	resp = h.do(t, h.user, http.MethodGet, "/video-jobs?status=pending", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[jobList](t, resp)
	require.Len(t, list.Items, 1)
	assert.Equal(t, job.ID, list.Items[0].ID)
}

func TestSubmitVideo_RejectsNonImageUpload(t *testing.T) {
	h := newAPIHarness(t)
	body, ct := multipartBody(t, map[string]string{"prompt": "x"},
		formFileSpec{field: "initialImage", name: "notes.txt", contentType: "text/plain", data: []byte("hello")})

	resp := h.do(t, h.user, http.MethodPost, "/video-jobs", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.queue.IDs())
}

func TestSubmitVideo_PaymentRequiredCarriesShortfall(t *testing.T) {
	h := newAPIHarness(t)
	sub := models.NewSubscription(h.user.ID, models.TierFree, time.Now())
	sub.AvailableTokens = 3
	h.ledger.Put(*sub)

	body, ct := multipartBody(t, map[string]string{"prompt": "red coat"})
	resp := h.do(t, h.user, http.MethodPost, "/video-jobs", body, ct)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	e := decodeBody[errorBody](t, resp)
	require.NotNil(t, e.Error.Cost)
	require.NotNil(t, e.Error.AvailableTokens)
	assert.Equal(t, 10, *e.Error.Cost)
	assert.Equal(t, 3, *e.Error.AvailableTokens)
}

func TestVideoJobVisibility(t *testing.T) {
	h := newAPIHarness(t)
	other := h.users.Add("bo@example.com", models.RoleUser)
	job := h.jobs.Insert(models.VideoJob{UserID: other.ID, Status: models.JobSucceeded, ResultURL: "https://cdn.test/videos/1"})

	resp := h.do(t, h.user, http.MethodGet, "/video-jobs/"+itoa(job.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, other, http.MethodGet, "/video-jobs/"+itoa(job.ID)+"/download", nil, "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://cdn.test/videos/1", resp.Header.Get("Location"))

	resp = h.do(t, h.user, http.MethodGet, "/video-jobs/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAndDeleteVideo(t *testing.T) {
	h := newAPIHarness(t)
	job := h.jobs.Insert(models.VideoJob{UserID: h.user.ID, Status: models.JobPending})

	resp := h.do(t, h.user, http.MethodPost, "/video-jobs/"+itoa(job.ID)+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.JobCancelled, decodeBody[models.VideoJob](t, resp).Status)

	resp = h.do(t, h.user, http.MethodDelete, "/video-jobs/"+itoa(job.ID), nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestLooksFlow(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.doJSON(t, h.user, http.MethodPost, "/looks", map[string]string{"title": "Autumn capsule"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	look := decodeBody[models.Look](t, resp)

	resp = h.doJSON(t, h.user, http.MethodPost, "/looks", map[string]string{"title": "x", "imageUrl": "not a url"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	path := "/looks/" + itoa(look.ID) + "/videos"
	resp = h.doJSON(t, h.user, http.MethodPost, path, map[string]any{"prompt": "coat in the wind"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	submitted := decodeBody[models.VideoJob](t, resp)
	require.NotNil(t, submitted.LookID)
	assert.Equal(t, look.ID, *submitted.LookID)

	done := h.jobs.Insert(models.VideoJob{UserID: h.user.ID, Status: models.JobSucceeded})
	resp = h.doJSON(t, h.user, http.MethodPost, path, map[string]any{"videoJobId": done.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = h.do(t, h.user, http.MethodPatch, path+"/"+itoa(done.ID)+"/set-default", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, h.user, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	videos := decodeBody[map[string][]models.LookVideo](t, resp)["items"]
	require.Len(t, videos, 2)
	defaults := 0
	for _, v := range videos {
		if v.IsDefault {
			defaults++
			assert.Equal(t, done.ID, v.VideoJobID)
		}
	}
	assert.Equal(t, 1, defaults)

	resp = h.do(t, h.user, http.MethodDelete, path+"/"+itoa(done.ID), nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stranger := h.users.Add("eve@example.com", models.RoleUser)
	resp = h.do(t, stranger, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLookLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	h.looks.Users = h.users
	friend := h.users.Add("bo@example.com", models.RoleUser)
	stranger := h.users.Add("eve@example.com", models.RoleUser)

	resp := h.doJSON(t, h.user, http.MethodPost, "/looks", map[string]any{"title": "Resort", "notes": "linen"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	look := decodeBody[models.Look](t, resp)
	path := "/looks/" + itoa(look.ID)

	resp = h.doJSON(t, h.user, http.MethodPatch, path, map[string]any{"title": "Resort 26"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[models.Look](t, resp)
	assert.Equal(t, "Resort 26", updated.Title)
	assert.Equal(t, "linen", updated.Notes)

	resp = h.doJSON(t, stranger, http.MethodPatch, path, map[string]any{"title": "mine"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.doJSON(t, h.user, http.MethodPatch, path+"/visibility", map[string]any{"visibility": "shared", "sharedWithUserIds": []int64{friend.ID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{friend.ID}, decodeBody[models.Look](t, resp).SharedWith)

	resp = h.do(t, friend, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, stranger, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.do(t, friend, http.MethodGet, "/looks?view=shared", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[map[string][]models.Look](t, resp)["items"], 1)

	resp = h.doJSON(t, h.user, http.MethodPatch, path+"/visibility", map[string]any{"visibility": "everyone"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, stranger, http.MethodDelete, path, nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = h.do(t, h.user, http.MethodDelete, path, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, h.user, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.doJSON(t, h.user, http.MethodPut, "/settings", map[string]any{"theme": "dark"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dark", decodeBody[service.UserToolSettings](t, resp).Theme)

	resp = h.doJSON(t, h.user, http.MethodPut, "/settings", map[string]any{"theme": "neon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, h.user, http.MethodDelete, "/settings", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "light", decodeBody[service.UserToolSettings](t, resp).Theme)
}

func TestGenerateText(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.doJSON(t, h.user, http.MethodPost, "/generate/text", map[string]any{"prompt": "title for a linen look"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[service.TextGenerationResult](t, resp)
	assert.Equal(t, "echo: title for a linen look", res.Text)
	assert.Equal(t, models.OpTextToText, res.Operation)
	assert.Equal(t, 97, res.AvailableTokens)

	body, ct := multipartBody(t, map[string]string{"prompt": "describe", "format": "json"},
		formFileSpec{field: "images", name: "a.png", contentType: "image/png", data: pngHeader})
	resp = h.do(t, h.user, http.MethodPost, "/generate/text", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeBody[service.TextGenerationResult](t, resp)
	assert.Equal(t, models.OpImageToText, res.Operation)
	assert.JSONEq(t, `{"images":1}`, string(res.JSON))
	assert.Equal(t, 92, res.AvailableTokens)

	resp = h.doJSON(t, h.user, http.MethodPost, "/generate/text", map[string]any{"prompt": "x", "format": "yaml"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = h.doJSON(t, h.user, http.MethodPost, "/generate/text", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminDefaultSettings(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, h.user, http.MethodGet, "/admin/settings/defaults", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.doJSON(t, h.admin, http.MethodPut, "/admin/settings/defaults", map[string]any{
		"theme":     "dark",
		"overrides": map[string]any{"videoCreator": map[string]string{"resolution": "1080p"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defs := decodeBody[service.DefaultToolSettings](t, resp)
	assert.Equal(t, "dark", defs.Theme)
	require.NotNil(t, defs.UpdatedBy)
	assert.Equal(t, h.admin.ID, *defs.UpdatedBy)

	resp = h.do(t, h.user, http.MethodGet, "/settings", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decodeBody[service.UserToolSettings](t, resp)
	assert.Equal(t, "dark", mine.Theme)
	assert.Equal(t, "1080p", mine.Tools.VideoCreator.Resolution)

	resp = h.do(t, h.admin, http.MethodDelete, "/admin/settings/defaults", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "720p", decodeBody[service.DefaultToolSettings](t, resp).Tools.VideoCreator.Resolution)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newAPIHarness(t)
	resp := h.do(t, h.user, http.MethodGet, "/admin/users", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminSubscriptionManagement(t *testing.T) {
	h := newAPIHarness(t)
	base := "/admin/users/" + itoa(h.user.ID) + "/subscription"

	resp := h.doJSON(t, h.admin, http.MethodPost, base+"/topup", map[string]any{"amount": 50, "description": "promo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 150, decodeBody[models.Subscription](t, resp).AvailableTokens)

	resp = h.doJSON(t, h.admin, http.MethodPut, base+"/tier", map[string]string{"tier": "pro"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sub := decodeBody[models.Subscription](t, resp)
	assert.Equal(t, models.TierPro, sub.Tier)
	assert.Equal(t, 1000, sub.AvailableTokens)

	resp = h.doJSON(t, h.admin, http.MethodPut, base+"/tier", map[string]string{"tier": "gold"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.doJSON(t, h.admin, http.MethodPost, "/admin/users/999/subscription/topup", map[string]any{"amount": 5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminUserManagement(t *testing.T) {
	h := newAPIHarness(t)
	pending, err := h.users.Create(context.Background(), &models.User{Email: "new@example.com", Role: models.RoleUser, Status: models.AccountPending})
	require.NoError(t, err)

	resp := h.do(t, h.admin, http.MethodGet, "/admin/users?status=pending", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decodeBody[map[string][]models.User](t, resp)["items"]
	require.Len(t, users, 1)
	assert.Equal(t, pending.ID, users[0].ID)

	resp = h.doJSON(t, h.admin, http.MethodPatch, "/admin/users/"+itoa(pending.ID)+"/status", map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.AccountActive, decodeBody[models.User](t, resp).Status)

	resp = h.doJSON(t, h.admin, http.MethodPatch, "/admin/users/"+itoa(pending.ID)+"/role", map[string]string{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImageContentType(t *testing.T) {
	ct, err := imageContentType("image/jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	ct, err = imageContentType("application/octet-stream", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = imageContentType("", []byte(strings.Repeat("a", 64)))
	assert.ErrorIs(t, err, errNotImage)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
