package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/testutil"
)

type fakeProvider struct {
	got kie.ImageRequest
	err error
	// seen reports whether the inputs were still stored during the call.
	seen []bool
	has  func(string) bool

	gotText kie.TextRequest
	reply   string
}

func (f *fakeProvider) GenerateText(_ context.Context, req kie.TextRequest) (*kie.TextResult, error) {
	f.gotText = req
	for _, u := range req.ImageURLs {
		f.seen = append(f.seen, f.has(u))
	}
	if f.err != nil {
		return nil, f.err
	}
	return &kie.TextResult{Text: f.reply, Model: string(req.Model)}, nil
}

func (f *fakeProvider) GenerateImage(_ context.Context, req kie.ImageRequest) (*kie.Image, error) {
	f.got = req
	for _, u := range req.InputURLs {
		f.seen = append(f.seen, f.has(u))
	}
	if f.err != nil {
		return nil, f.err
	}
	return &kie.Image{URL: "https://kie.test/out.png"}, nil
}

func newGenerationFixture() (*GenerationService, *testutil.Ledger, *testutil.Content, *fakeProvider) {
	ledger := testutil.NewLedger()
	content := testutil.NewContent()
	gen := &fakeProvider{has: content.Has}
	svc := NewGenerationService(NewTokenService(ledger, nil), content, gen, nil)
	return svc, ledger, content, gen
}

func TestGenerateImage_TextToImage(t *testing.T) {
	svc, _, _, gen := newGenerationFixture()
	user := &models.User{ID: 7}

	res, err := svc.GenerateImage(context.Background(), user, ImageGenerationRequest{Prompt: " red dress "})
	require.NoError(t, err)
	assert.Equal(t, "https://kie.test/out.png", res.ImageURL)
	assert.Equal(t, models.OpTextToImage, res.Operation)
	assert.Equal(t, 10, res.Cost)
	assert.Equal(t, 90, res.AvailableTokens)
	assert.Equal(t, kie.ModelNanoBanana, gen.got.Model)
	assert.Equal(t, "red dress", gen.got.Prompt)
	assert.Equal(t, "1:1", gen.got.AspectRatio)
}

func TestGenerateImage_InputsAreMultiModalAndRemoved(t *testing.T) {
	svc, _, content, gen := newGenerationFixture()
	user := &models.User{ID: 7}

	res, err := svc.GenerateImage(context.Background(), user, ImageGenerationRequest{
		Model:  kie.ModelFlux2,
		Prompt: "swap the jacket",
		Inputs: []Upload{{Data: []byte("a"), ContentType: "image/png"}, {Data: []byte("b"), ContentType: "image/jpeg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OpMultiModal, res.Operation)
	assert.Equal(t, 20, res.Cost)
	assert.Equal(t, []bool{true, true}, gen.seen)
	assert.Zero(t, content.Len())
}

func TestGenerateImage_ProviderFailureKeepsCharge(t *testing.T) {
	svc, ledger, _, gen := newGenerationFixture()
	user := &models.User{ID: 7}

	gen.err = &kie.Error{Kind: kie.KindRateLimited, Status: http.StatusTooManyRequests, Message: "slow down"}
	_, err := svc.GenerateImage(context.Background(), user, ImageGenerationRequest{Prompt: "coat"})
	assert.True(t, apperr.Is(err, apperr.KindProviderError))

	gen.err = context.DeadlineExceeded
	_, err = svc.GenerateImage(context.Background(), user, ImageGenerationRequest{Prompt: "coat"})
	assert.True(t, apperr.Is(err, apperr.KindTimeout))

	sub, err := ledger.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, sub.AvailableTokens)
}

func TestGenerateImage_Rejections(t *testing.T) {
	svc, ledger, content, _ := newGenerationFixture()
	user := &models.User{ID: 7}
	ctx := context.Background()

	_, err := svc.GenerateImage(ctx, user, ImageGenerationRequest{Prompt: "   "})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = svc.GenerateImage(ctx, user, ImageGenerationRequest{Prompt: "x", Model: "dall-e"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = svc.GenerateImage(ctx, user, ImageGenerationRequest{Prompt: "x", Inputs: make([]Upload, 9)})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Empty(t, ledger.Transactions(user.ID))

	content.PutErr = errors.New("bucket gone")
	_, err = svc.GenerateImage(ctx, user, ImageGenerationRequest{Prompt: "x", Inputs: []Upload{{Data: []byte("a")}}})
	assert.True(t, apperr.Is(err, apperr.KindStorageError))

	sub := models.NewSubscription(8, models.TierFree, svc.tokens.now())
	sub.AvailableTokens = 3
	ledger.Put(*sub)
	_, err = svc.GenerateImage(ctx, &models.User{ID: 8}, ImageGenerationRequest{Prompt: "x"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPaymentRequired, e.Kind)
	assert.Equal(t, 3, *e.Available)
}

func TestGenerateText_ChargesTextToText(t *testing.T) {
	svc, _, _, gen := newGenerationFixture()
	gen.reply = "Resort Linen Edit"
	user := &models.User{ID: 7}

	res, err := svc.GenerateText(context.Background(), user, TextGenerationRequest{
		SystemInstruction: " You name looks. ",
		Prompt:            " Name this look ",
		MaxOutputTokens:   50,
	})
	require.NoError(t, err)
	assert.Equal(t, "Resort Linen Edit", res.Text)
	assert.Nil(t, res.JSON)
	assert.Equal(t, models.OpTextToText, res.Operation)
	assert.Equal(t, 3, res.Cost)
	assert.Equal(t, 97, res.AvailableTokens)
	assert.Equal(t, kie.ModelGeminiFlash, gen.gotText.Model)
	assert.Equal(t, "You name looks.", gen.gotText.SystemInstruction)
	assert.Equal(t, "Name this look", gen.gotText.Prompt)
	assert.Equal(t, 50, gen.gotText.MaxOutputTokens)
}

func TestGenerateText_ImagesChargeImageToText(t *testing.T) {
	svc, _, content, gen := newGenerationFixture()
	gen.reply = "```json\n{\"garment\":\"trench coat\"}\n```"
	user := &models.User{ID: 7}

	res, err := svc.GenerateText(context.Background(), user, TextGenerationRequest{
		Prompt: "Describe the garment",
		JSON:   true,
		Inputs: []Upload{{Data: []byte("a"), ContentType: "image/png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OpImageToText, res.Operation)
	assert.Equal(t, 5, res.Cost)
	assert.JSONEq(t, `{"garment":"trench coat"}`, string(res.JSON))
	assert.True(t, gen.gotText.JSON)
	assert.Equal(t, []bool{true}, gen.seen)
	assert.Zero(t, content.Len(), "inputs are removed after the call")
}

func TestGenerateText_InvalidJSONReply(t *testing.T) {
	svc, _, _, gen := newGenerationFixture()
	gen.reply = "sure! here is a coat"

	_, err := svc.GenerateText(context.Background(), &models.User{ID: 7}, TextGenerationRequest{Prompt: "x", JSON: true})
	assert.True(t, apperr.Is(err, apperr.KindProviderError))
}

func TestGenerateText_Rejections(t *testing.T) {
	svc, ledger, _, gen := newGenerationFixture()
	user := &models.User{ID: 7}
	ctx := context.Background()

	_, err := svc.GenerateText(ctx, user, TextGenerationRequest{Prompt: " "})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = svc.GenerateText(ctx, user, TextGenerationRequest{Prompt: "x", Model: "gpt-4o"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = svc.GenerateText(ctx, user, TextGenerationRequest{Prompt: "x", MaxOutputTokens: 100000})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = svc.GenerateText(ctx, user, TextGenerationRequest{Prompt: "x", Inputs: make([]Upload, 5)})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Empty(t, ledger.Transactions(user.ID))

	gen.err = &kie.Error{Kind: kie.KindUnavailable, Status: http.StatusBadGateway, Message: "down"}
	_, err = svc.GenerateText(ctx, user, TextGenerationRequest{Prompt: "x"})
	assert.True(t, apperr.Is(err, apperr.KindProviderError))
	sub, err := ledger.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 97, sub.AvailableTokens, "the charge is kept when the provider fails")
}
