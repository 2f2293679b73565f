package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pranith684/TaskFlow/internal/model"
	"github.com/pranith684/TaskFlow/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type mockUserStore struct {
	findByEmailFunc    func(ctx context.Context, email string) (*model.User, error)
	findByIDFunc       func(ctx context.Context, id uint) (*model.User, error)
	createFunc         func(ctx context.Context, user *model.User) error
	updatePasswordFunc func(ctx context.Context, id uint, hash string) error
	createCalls        int
	updateCalls        int
}

func (m *mockUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFunc == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.findByEmailFunc(ctx, email)
}

func (m *mockUserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	if m.findByIDFunc == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return m.findByIDFunc(ctx, id)
}

func (m *mockUserStore) Create(ctx context.Context, user *model.User) error {
	m.createCalls++
	if m.createFunc == nil {
		return nil
	}
	return m.createFunc(ctx, user)
}

func (m *mockUserStore) UpdatePassword(ctx context.Context, id uint, hash string) error {
	m.updateCalls++
	if m.updatePasswordFunc == nil {
		return nil
	}
	return m.updatePasswordFunc(ctx, id, hash)
}

func newTestHandler(store UserStore) *Handler {
	return &Handler{
		store:     store,
		jwtSecret: []byte("test-secret"),
		tokenTTL:  time.Hour,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegister_Normal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	var created *model.User
	store := &mockUserStore{
		createFunc: func(ctx context.Context, user *model.User) error {
			user.ID = 1
			created = user
			return nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/register", h.Register)

	w := postJSON(t, r, "/register", map[string]string{
		"name": "Al", "email": "al@x.com", "password": "secret1",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if store.createCalls != 1 || created == nil {
		t.Fatalf("expected user to be created")
	}
	if created.Password == "secret1" {
		t.Fatalf("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.Password), []byte("secret1")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	store := &mockUserStore{}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/register", h.Register)

	w := postJSON(t, r, "/register", map[string]string{
		"name": "Al", "email": "al@x.com", "password": "short",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if store.createCalls != 0 {
		t.Fatalf("expected no create on validation failure")
	}
}

func TestRegister_MissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	h := newTestHandler(&mockUserStore{})
	r := gin.New()
	r.POST("/register", h.Register)

	w := postJSON(t, r, "/register", map[string]string{"email": "al@x.com", "password": "secret1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on missing name, got %d", w.Code)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	store := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 1, Email: email}, nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/register", h.Register)

	w := postJSON(t, r, "/register", map[string]string{
		"name": "Al", "email": "al@x.com", "password": "secret1",
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if store.createCalls != 0 {
		t.Fatalf("expected no create on duplicate email")
	}
}

func TestRegister_DuplicateOnWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	// 先查后写的并发窗口：写入时唯一索引冲突也要映射为 409。
	store := &mockUserStore{
		createFunc: func(ctx context.Context, user *model.User) error {
			return gorm.ErrDuplicatedKey
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/register", h.Register)

	w := postJSON(t, r, "/register", map[string]string{
		"name": "Al", "email": "al@x.com", "password": "secret1",
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on write conflict, got %d", w.Code)
	}
}

func TestLogin_Normal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			if email != "al@x.com" {
				return nil, gorm.ErrRecordNotFound
			}
			return &model.User{ID: 7, Name: "Al", Email: email, Password: string(hash)}, nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/login", h.Login)

	w := postJSON(t, r, "/login", map[string]string{"email": "al@x.com", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("expected token in response")
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(resp.Token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Subject != "7" {
		t.Fatalf("expected subject 7, got %q", claims.Subject)
	}
	if claims.Email != "al@x.com" {
		t.Fatalf("expected email claim, got %q", claims.Email)
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl < 55*time.Minute || ttl > 65*time.Minute {
		t.Fatalf("expected roughly 1h expiry, got %v", ttl)
	}
}

func TestLogin_UniformInvalidCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	store := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			if email != "al@x.com" {
				return nil, gorm.ErrRecordNotFound
			}
			return &model.User{ID: 7, Email: email, Password: string(hash)}, nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/login", h.Login)

	wrongPass := postJSON(t, r, "/login", map[string]string{"email": "al@x.com", "password": "wrongpass"})
	unknown := postJSON(t, r, "/login", map[string]string{"email": "nobody@x.com", "password": "secret1"})

	if wrongPass.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPass.Code, unknown.Code)
	}
	// 未知邮箱与密码错误不可区分
	if wrongPass.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical error bodies, got %q vs %q", wrongPass.Body.String(), unknown.Body.String())
	}
}

func TestLogin_SingleCharDifferenceFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	store := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 7, Email: email, Password: string(hash)}, nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/login", h.Login)

	for _, pw := range []string{"secret2", "Secret1", "secret1 ", "secret"} {
		w := postJSON(t, r, "/login", map[string]string{"email": "al@x.com", "password": pw})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("password %q: expected 401, got %d", pw, w.Code)
		}
	}
}

func TestRegisterLogin_RoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	// 内存版存储，验证注册后同一凭证可以登录。
	users := map[string]*model.User{}
	store := &mockUserStore{
		findByEmailFunc: func(ctx context.Context, email string) (*model.User, error) {
			if u, ok := users[email]; ok {
				return u, nil
			}
			return nil, gorm.ErrRecordNotFound
		},
		createFunc: func(ctx context.Context, user *model.User) error {
			user.ID = uint(len(users) + 1)
			users[user.Email] = user
			return nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)

	if w := postJSON(t, r, "/register", map[string]string{
		"name": "Al", "email": "al@x.com", "password": "secret1",
	}); w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}
	w := postJSON(t, r, "/login", map[string]string{"email": "al@x.com", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("login after register: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "token") {
		t.Fatalf("expected token in login response")
	}
}

func TestMe_Normal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	store := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id uint) (*model.User, error) {
			return &model.User{ID: id, Name: "Al", Email: "al@x.com", Password: string(hash)}, nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.GET("/me", func(c *gin.Context) {
		c.Set("userID", 7)
		h.Me(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "al@x.com") {
		t.Fatalf("expected user email in body")
	}
	// 密码哈希绝不能出现在响应里
	if strings.Contains(w.Body.String(), string(hash)) || strings.Contains(w.Body.String(), "password") {
		t.Fatalf("password material leaked in response: %s", w.Body.String())
	}
}

func TestMe_UserGone(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	h := newTestHandler(&mockUserStore{})
	r := gin.New()
	r.GET("/me", func(c *gin.Context) {
		c.Set("userID", 7)
		h.Me(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestChangePassword_Normal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	var savedHash string
	store := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id uint) (*model.User, error) {
			return &model.User{ID: id, Email: "al@x.com", Password: string(hash)}, nil
		},
		updatePasswordFunc: func(ctx context.Context, id uint, newHash string) error {
			savedHash = newHash
			return nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/change-password", func(c *gin.Context) {
		c.Set("userID", 7)
		h.ChangePassword(c)
	})

	w := postJSON(t, r, "/change-password", map[string]string{
		"currentPassword": "secret1", "newPassword": "secret2",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.updateCalls != 1 {
		t.Fatalf("expected password update")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(savedHash), []byte("secret2")); err != nil {
		t.Fatalf("new hash does not verify: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(savedHash), []byte("secret1")) == nil {
		t.Fatalf("old password still verifies against new hash")
	}
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.DefaultCost)
	store := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id uint) (*model.User, error) {
			return &model.User{ID: id, Email: "al@x.com", Password: string(hash)}, nil
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/change-password", func(c *gin.Context) {
		c.Set("userID", 7)
		h.ChangePassword(c)
	})

	w := postJSON(t, r, "/change-password", map[string]string{
		"currentPassword": "wrongpass", "newPassword": "secret2",
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if store.updateCalls != 0 {
		t.Fatalf("expected no update on mismatch")
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	h := newTestHandler(&mockUserStore{})
	r := gin.New()
	r.POST("/change-password", func(c *gin.Context) {
		c.Set("userID", 7)
		h.ChangePassword(c)
	})

	w := postJSON(t, r, "/change-password", map[string]string{
		"currentPassword": "secret1", "newPassword": "x",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChangePassword_UserGone(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	store := &mockUserStore{
		findByIDFunc: func(ctx context.Context, id uint) (*model.User, error) {
			return nil, gorm.ErrRecordNotFound
		},
	}
	h := newTestHandler(store)

	r := gin.New()
	r.POST("/change-password", func(c *gin.Context) {
		c.Set("userID", 7)
		h.ChangePassword(c)
	})

	w := postJSON(t, r, "/change-password", map[string]string{
		"currentPassword": "secret1", "newPassword": "secret2",
	})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestIssueToken_DistinctUsers(t *testing.T) {
	h := newTestHandler(&mockUserStore{})

	tokenA, err := h.issueToken(1, "a@x.com")
	if err != nil {
		t.Fatalf("issue a: %v", err)
	}
	tokenB, err := h.issueToken(2, "b@x.com")
	if err != nil {
		t.Fatalf("issue b: %v", err)
	}
	if tokenA == tokenB {
		t.Fatalf("tokens for distinct users must differ")
	}

	for i, tok := range []string{tokenA, tokenB} {
		claims := &sessionClaims{}
		parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		if err != nil || !parsed.Valid {
			t.Fatalf("token %d does not verify: %v", i, err)
		}
		if claims.Subject != fmt.Sprintf("%d", i+1) {
			t.Fatalf("token %d: unexpected subject %q", i, claims.Subject)
		}
	}
}
