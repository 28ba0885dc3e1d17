package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageStore) UpsertDraft(ctx context.Context, msg *models.Message) (*models.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageStore) GetDraft(ctx context.Context, senderID, recipientID string) (*models.Message, error) {
	args := m.Called(ctx, senderID, recipientID)
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageStore) FindByConversation(ctx context.Context, userA, userB string, limit int, before *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB, limit, before)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageStore) FindByID(ctx context.Context, id string) (*models.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageStore) FindByIDs(ctx context.Context, ids []string, recipientID string) ([]models.Message, error) {
	args := m.Called(ctx, ids, recipientID)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageStore) UpdateStatusBulk(ctx context.Context, ids []string, recipientID string, from []models.MessageStatus, to models.MessageStatus, readAt *time.Time) (int64, error) {
	args := m.Called(ctx, ids, recipientID, from, to, readAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageStore) FindExpired(ctx context.Context, now time.Time) ([]models.Message, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageStore) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

type MockKeyStore struct {
	mock.Mock
}

func (m *MockKeyStore) GetActiveKey(ctx context.Context, userID string) (*models.Key, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(*models.Key), args.Error(1)
}

func (m *MockKeyStore) RotateKey(ctx context.Context, userID string) (*models.Key, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(*models.Key), args.Error(1)
}

func (m *MockKeyStore) GetKeyByID(ctx context.Context, keyID string) (*models.Key, error) {
	args := m.Called(ctx, keyID)
	return args.Get(0).(*models.Key), args.Error(1)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockPushNotifier struct {
	mock.Mock
}

func (m *MockPushNotifier) NotifyOffline(ctx context.Context, userID, summary string) {
	m.Called(ctx, userID, summary)
}

type MockAttachmentStore struct {
	mock.Mock
}

func (m *MockAttachmentStore) Remove(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

type MockPresenceStore struct {
	mock.Mock
}

func (m *MockPresenceStore) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *MockPresenceStore) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(time.Time), args.Error(1)
}

type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	args := m.Called(ctx, tokenHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockTokenRepository) Revoke(ctx context.Context, tokenHash string, expiration time.Duration) error {
	args := m.Called(ctx, tokenHash, expiration)
	return args.Error(0)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Send(userID string, event models.Event) bool {
	args := m.Called(userID, event)
	return args.Bool(0)
}

func (m *MockRegistry) Broadcast(event models.Event, excludeUserID string) {
	m.Called(event, excludeUserID)
}

func CreateTestRequest(url, method string, body interface{}) *http.Request {
	var buffer bytes.Buffer
	if body != nil {
		json.NewEncoder(&buffer).Encode(body)
	}

	req := httptest.NewRequest(method, url, &buffer)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func ExecuteHandler(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
