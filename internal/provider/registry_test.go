package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

type stubAdapter struct {
	typ      Type
	settings Settings
	calls    *atomic.Int32
	exec     func(req *types.DispatchRequest) *types.DispatchResult
}

func (s *stubAdapter) Type() Type { return s.typ }

func (s *stubAdapter) Execute(_ context.Context, req *types.DispatchRequest) *types.DispatchResult {
	s.calls.Add(1)
	return s.exec(req)
}

type recordingFactory struct {
	calls    atomic.Int32
	settings atomic.Pointer[Settings]
	exec     func(req *types.DispatchRequest) *types.DispatchResult
}

func (f *recordingFactory) factory(t Type) Factory {
	return func(s Settings) Adapter {
		f.settings.Store(&s)
		return &stubAdapter{typ: t, settings: s, calls: &f.calls, exec: f.exec}
	}
}

func okExec(req *types.DispatchRequest) *types.DispatchResult {
	return Succeed(req, "ok", Usage{Input: IntPtr(3), Output: IntPtr(2)})
}

type staticSource struct {
	rec *Record
	err error
}

func (s staticSource) ActiveProviderConfig(context.Context, Type) (*Record, error) {
	return s.rec, s.err
}

type prefixSecrets struct{}

func (prefixSecrets) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "bad" {
		return "", errors.New("secret not found")
	}
	return "resolved-" + ref, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRequest() *types.DispatchRequest {
	return &types.DispatchRequest{JobID: "job-1", UserID: "u1", Model: "m", Message: "hello"}
}

func TestDispatch_UnsupportedProviderCallsNoAdapter(t *testing.T) {
	f := &recordingFactory{exec: okExec}
	r := NewRouter(WithRouterLogger(quietLogger()))
	r.Register(OpenAI, f.factory(OpenAI))

	res := r.Dispatch(context.Background(), "Mistral", newRequest())

	require.False(t, res.Success)
	assert.Equal(t, llmerrors.TypeUnsupported, res.ErrorType)
	assert.Equal(t, "Unsupported AI provider: Mistral (normalized to: mistral)", res.ErrorMessage)
	assert.Equal(t, "job-1", res.JobID)
	assert.Zero(t, f.calls.Load())
}

func TestDispatch_NormalizesAlias(t *testing.T) {
	f := &recordingFactory{exec: okExec}
	r := NewRouter(WithRouterLogger(quietLogger()))
	r.Register(Gemini, f.factory(Gemini))

	res := r.Dispatch(context.Background(), "Google Gemini", newRequest())

	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, 5, res.TokensUsed)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestDispatch_Validation(t *testing.T) {
	f := &recordingFactory{exec: okExec}
	r := NewRouter(WithRouterLogger(quietLogger()))
	r.Register(OpenAI, f.factory(OpenAI))

	res := r.Dispatch(context.Background(), "openai", &types.DispatchRequest{Model: "m", Message: "  "})
	assert.False(t, res.Success)
	assert.Equal(t, "Content cannot be empty", res.ErrorMessage)

	res = r.Dispatch(context.Background(), "openai", &types.DispatchRequest{Message: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, "Model cannot be empty", res.ErrorMessage)

	assert.Zero(t, f.calls.Load())
}

func TestDispatch_UnregisteredCanonicalProvider(t *testing.T) {
	r := NewRouter(WithRouterLogger(quietLogger()))
	res := r.Dispatch(context.Background(), "claude", newRequest())
	assert.False(t, res.Success)
	assert.Equal(t, llmerrors.TypeUnsupported, res.ErrorType)
}

func TestDispatch_RecoversPanics(t *testing.T) {
	f := &recordingFactory{exec: func(*types.DispatchRequest) *types.DispatchResult { panic("kaboom") }}
	r := NewRouter(WithRouterLogger(quietLogger()))
	r.Register(Ollama, f.factory(Ollama))

	res := r.Dispatch(context.Background(), "ollama", newRequest())

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, llmerrors.TypeInternalError, res.ErrorType)
	assert.Contains(t, res.ErrorMessage, "kaboom")
}

func TestDispatch_NilResultBecomesFailure(t *testing.T) {
	f := &recordingFactory{exec: func(*types.DispatchRequest) *types.DispatchResult { return nil }}
	r := NewRouter(WithRouterLogger(quietLogger()))
	r.Register(OpenAI, f.factory(OpenAI))

	res := r.Dispatch(context.Background(), "openai", newRequest())
	require.NotNil(t, res)
	assert.False(t, res.Success)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults only", func(t *testing.T) {
		r := NewRouter(WithRouterLogger(quietLogger()))
		r.SetDefaults(map[Type]Settings{OpenAI: {APIKey: "env-key", BaseURL: "http://default"}})

		s, err := r.Resolve(ctx, OpenAI)
		require.NoError(t, err)
		assert.Equal(t, "env-key", s.APIKey)
		assert.Equal(t, "http://default", s.BaseURL)
		assert.Equal(t, DefaultTimeout, s.Timeout)
	})

	t.Run("active record overrides defaults", func(t *testing.T) {
		rec := &Record{Type: OpenAI, APIKey: "db-key", OrganizationID: "org", APIURL: "http://db", Active: true}
		r := NewRouter(WithRouterLogger(quietLogger()), WithConfigSource(staticSource{rec: rec}))
		r.SetDefaults(map[Type]Settings{OpenAI: {APIKey: "env-key", BaseURL: "http://default"}})

		s, err := r.Resolve(ctx, OpenAI)
		require.NoError(t, err)
		assert.Equal(t, "db-key", s.APIKey)
		assert.Equal(t, "org", s.OrganizationID)
		assert.Equal(t, "http://db", s.BaseURL)
	})

	t.Run("source failure falls back to defaults", func(t *testing.T) {
		r := NewRouter(WithRouterLogger(quietLogger()), WithConfigSource(staticSource{err: errors.New("db down")}))
		r.SetDefaults(map[Type]Settings{Claude: {APIKey: "env-key"}})

		s, err := r.Resolve(ctx, Claude)
		require.NoError(t, err)
		assert.Equal(t, "env-key", s.APIKey)
	})

	t.Run("secret references are resolved", func(t *testing.T) {
		r := NewRouter(WithRouterLogger(quietLogger()), WithSecretResolver(prefixSecrets{}))
		r.SetDefaults(map[Type]Settings{Gemini: {APIKey: "ref"}})

		s, err := r.Resolve(ctx, Gemini)
		require.NoError(t, err)
		assert.Equal(t, "resolved-ref", s.APIKey)
	})
}

func TestDispatch_SecretFailureIsAuthError(t *testing.T) {
	f := &recordingFactory{exec: okExec}
	r := NewRouter(WithRouterLogger(quietLogger()), WithSecretResolver(prefixSecrets{}))
	r.Register(OpenAI, f.factory(OpenAI))
	r.SetDefaults(map[Type]Settings{OpenAI: {APIKey: "bad"}})

	res := r.Dispatch(context.Background(), "openai", newRequest())
	assert.False(t, res.Success)
	assert.Equal(t, llmerrors.TypeAuthentication, res.ErrorType)
	assert.Zero(t, f.calls.Load())
}

func TestDispatch_PassesResolvedSettings(t *testing.T) {
	f := &recordingFactory{exec: okExec}
	r := NewRouter(WithRouterLogger(quietLogger()))
	r.Register(OpenAI, f.factory(OpenAI))
	r.SetDefaults(map[Type]Settings{OpenAI: {APIKey: "k1"}})

	r.Dispatch(context.Background(), "openai", newRequest())
	assert.Equal(t, "k1", f.settings.Load().APIKey)

	r.SetDefaults(map[Type]Settings{OpenAI: {APIKey: "k2"}})
	r.Dispatch(context.Background(), "openai", newRequest())
	assert.Equal(t, "k2", f.settings.Load().APIKey)
}

func TestSupported(t *testing.T) {
	r := NewRouter()
	r.Register(Ollama, (&recordingFactory{exec: okExec}).factory(Ollama))
	r.Register(OpenAI, (&recordingFactory{exec: okExec}).factory(OpenAI))
	assert.Equal(t, []Type{OpenAI, Ollama}, r.Supported())
}
