package services_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patrik-fredon/ZipChat-sub000/app/tests"
	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services/keying"
)

func testKey(t *testing.T, id, ownerID string) *models.Key {
	t.Helper()

	material, err := keying.GenerateKey()
	require.NoError(t, err)

	return &models.Key{
		ID:         id,
		OwnerID:    ownerID,
		PublicKey:  material,
		PrivateKey: material,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMessage_Send(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	ts := []struct {
		name          string
		senderID      string
		recipientID   string
		content       string
		setupMocks    func(store *tests.MockMessageStore, keys *tests.MockKeyStore, users *tests.MockUserDirectory)
		expectedError error
	}{
		{
			name:        "Successful send",
			senderID:    "alice",
			recipientID: "bob",
			content:     "hello bob",
			setupMocks: func(store *tests.MockMessageStore, keys *tests.MockKeyStore, users *tests.MockUserDirectory) {
				users.On("Exists", ctx, "alice").Return(true, nil)
				users.On("Exists", ctx, "bob").Return(true, nil)
				keys.On("GetActiveKey", ctx, "bob").Return(testKey(t, "key-1", "bob"), nil)
				stored := &models.Message{}
				store.On("Create", ctx, mock.AnythingOfType("*models.Message")).
					Run(func(args mock.Arguments) {
						*stored = *args.Get(1).(*models.Message)
						stored.ID = "msg-1"
					}).
					Return(stored, nil)
			},
			expectedError: nil,
		},
		{
			name:          "Empty content",
			senderID:      "alice",
			recipientID:   "bob",
			content:       "",
			setupMocks:    func(store *tests.MockMessageStore, keys *tests.MockKeyStore, users *tests.MockUserDirectory) {},
			expectedError: services.ErrInvalidInput,
		},
		{
			name:        "Unknown recipient",
			senderID:    "alice",
			recipientID: "ghost",
			content:     "anyone there?",
			setupMocks: func(store *tests.MockMessageStore, keys *tests.MockKeyStore, users *tests.MockUserDirectory) {
				users.On("Exists", ctx, "alice").Return(true, nil)
				users.On("Exists", ctx, "ghost").Return(false, nil)
			},
			expectedError: services.ErrUserNotFound,
		},
		{
			name:        "Recipient has no active key",
			senderID:    "alice",
			recipientID: "bob",
			content:     "hello",
			setupMocks: func(store *tests.MockMessageStore, keys *tests.MockKeyStore, users *tests.MockUserDirectory) {
				users.On("Exists", ctx, "alice").Return(true, nil)
				users.On("Exists", ctx, "bob").Return(true, nil)
				keys.On("GetActiveKey", ctx, "bob").Return((*models.Key)(nil), nil)
			},
			expectedError: services.ErrKeyNotFound,
		},
		{
			name:        "Store failure",
			senderID:    "alice",
			recipientID: "bob",
			content:     "hello",
			setupMocks: func(store *tests.MockMessageStore, keys *tests.MockKeyStore, users *tests.MockUserDirectory) {
				users.On("Exists", ctx, "alice").Return(true, nil)
				users.On("Exists", ctx, "bob").Return(true, nil)
				keys.On("GetActiveKey", ctx, "bob").Return(testKey(t, "key-1", "bob"), nil)
				store.On("Create", ctx, mock.AnythingOfType("*models.Message")).Return((*models.Message)(nil), errors.New("db error"))
			},
			expectedError: errors.New("db error"),
		},
	}

	for _, tc := range ts {
		t.Run(tc.name, func(t *testing.T) {
			store := new(tests.MockMessageStore)
			keys := new(tests.MockKeyStore)
			users := new(tests.MockUserDirectory)
			tc.setupMocks(store, keys, users)

			svc := services.NewMessageService(store, keys, users, nil, logger)

			msg, err := svc.Send(ctx, tc.senderID, tc.recipientID, tc.content, nil, nil)

			if tc.expectedError != nil {
				assert.Error(t, err)
				assert.Equal(t, tc.expectedError.Error(), err.Error())
				assert.Nil(t, msg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, msg)
				assert.Equal(t, models.StatusSent, msg.Status)
				assert.Equal(t, "key-1", msg.KeyID)
				assert.NotEmpty(t, msg.Ciphertext)
				assert.Len(t, msg.IV, keying.IVSize)
				assert.Len(t, msg.AuthTag, keying.AuthTagSize)
				assert.NotContains(t, string(msg.Ciphertext), tc.content)
			}

			store.AssertExpectations(t)
			keys.AssertExpectations(t)
			users.AssertExpectations(t)
		})
	}
}

func TestMessage_SaveDraft(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	store := new(tests.MockMessageStore)
	keys := new(tests.MockKeyStore)
	users := new(tests.MockUserDirectory)

	keys.On("GetActiveKey", ctx, "bob").Return(testKey(t, "key-1", "bob"), nil)
	stored := &models.Message{}
	store.On("UpsertDraft", ctx, mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			*stored = *args.Get(1).(*models.Message)
			stored.ID = "draft-1"
		}).
		Return(stored, nil)

	svc := services.NewMessageService(store, keys, users, nil, logger)

	draft, err := svc.SaveDraft(ctx, "alice", "bob", "unfinished thought")
	require.NoError(t, err)
	assert.Equal(t, "draft-1", draft.ID)
	assert.Equal(t, models.StatusDraft, draft.Status)

	store.AssertExpectations(t)
}

func TestMessage_GetDraft_Absent(t *testing.T) {
	store := new(tests.MockMessageStore)
	store.On("GetDraft", mock.Anything, "alice", "bob").Return((*models.Message)(nil), nil)

	svc := services.NewMessageService(store, new(tests.MockKeyStore), new(tests.MockUserDirectory), nil, slog.Default())

	draft, err := svc.GetDraft(context.Background(), "alice", "bob")
	assert.NoError(t, err)
	assert.Nil(t, draft)
}

func TestMessage_GetConversation_DecryptsOnlyInbound(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	key := testKey(t, "key-bob", "bob")
	inbound, err := keying.Encrypt([]byte("for bob's eyes"), key.PublicKey)
	require.NoError(t, err)

	aliceKey := testKey(t, "key-alice", "alice")
	outbound, err := keying.Encrypt([]byte("bob's reply"), aliceKey.PublicKey)
	require.NoError(t, err)

	store := new(tests.MockMessageStore)
	keys := new(tests.MockKeyStore)

	store.On("FindByConversation", ctx, "bob", "alice", 50, (*time.Time)(nil)).Return([]models.Message{
		{ID: "m1", SenderID: "alice", RecipientID: "bob", Ciphertext: inbound.Ciphertext, IV: inbound.IV, AuthTag: inbound.AuthTag, KeyID: "key-bob", Status: models.StatusSent},
		{ID: "m2", SenderID: "bob", RecipientID: "alice", Ciphertext: outbound.Ciphertext, IV: outbound.IV, AuthTag: outbound.AuthTag, KeyID: "key-alice", Status: models.StatusRead},
	}, nil)
	keys.On("GetKeyByID", ctx, "key-bob").Return(key, nil)

	svc := services.NewMessageService(store, keys, new(tests.MockUserDirectory), nil, logger)

	msgs, err := svc.GetConversation(ctx, "bob", "alice", 0, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "for bob's eyes", msgs[0].Content)
	assert.Empty(t, msgs[1].Content, "requester's own outbound ciphertext stays sealed")

	keys.AssertExpectations(t)
}

func TestMessage_GetConversation_TamperedRecordFails(t *testing.T) {
	ctx := context.Background()

	key := testKey(t, "key-bob", "bob")
	env, err := keying.Encrypt([]byte("original"), key.PublicKey)
	require.NoError(t, err)

	tampered := make([]byte, len(env.Ciphertext))
	copy(tampered, env.Ciphertext)
	tampered[0] ^= 0x01

	store := new(tests.MockMessageStore)
	keys := new(tests.MockKeyStore)

	store.On("FindByConversation", ctx, "bob", "alice", 50, (*time.Time)(nil)).Return([]models.Message{
		{ID: "m1", SenderID: "alice", RecipientID: "bob", Ciphertext: tampered, IV: env.IV, AuthTag: env.AuthTag, KeyID: "key-bob"},
	}, nil)
	keys.On("GetKeyByID", ctx, "key-bob").Return(key, nil)

	svc := services.NewMessageService(store, keys, new(tests.MockUserDirectory), nil, slog.Default())

	msgs, err := svc.GetConversation(ctx, "bob", "alice", 0, nil)
	assert.ErrorIs(t, err, keying.ErrAuthentication)
	assert.Nil(t, msgs)
}

func TestMessage_MarkRead_GroupsBySender(t *testing.T) {
	ctx := context.Background()
	ids := []string{"m1", "m2", "m3"}

	store := new(tests.MockMessageStore)
	store.On("UpdateStatusBulk", ctx, ids, "bob",
		[]models.MessageStatus{models.StatusSent, models.StatusDelivered},
		models.StatusRead, mock.AnythingOfType("*time.Time")).Return(int64(3), nil)
	store.On("FindByIDs", ctx, ids, "bob").Return([]models.Message{
		{ID: "m1", SenderID: "alice", RecipientID: "bob"},
		{ID: "m2", SenderID: "alice", RecipientID: "bob"},
		{ID: "m3", SenderID: "carol", RecipientID: "bob"},
	}, nil)

	svc := services.NewMessageService(store, new(tests.MockKeyStore), new(tests.MockUserDirectory), nil, slog.Default())

	bySender, err := svc.MarkRead(ctx, "bob", ids)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"alice": {"m1", "m2"},
		"carol": {"m3"},
	}, bySender)

	store.AssertExpectations(t)
}

func TestMessage_MarkDelivered_OnlyMovesSent(t *testing.T) {
	ctx := context.Background()
	ids := []string{"m1", "m2"}

	store := new(tests.MockMessageStore)
	store.On("UpdateStatusBulk", ctx, ids, "bob",
		[]models.MessageStatus{models.StatusSent},
		models.StatusDelivered, (*time.Time)(nil)).Return(int64(1), nil)

	svc := services.NewMessageService(store, new(tests.MockKeyStore), new(tests.MockUserDirectory), nil, slog.Default())

	count, err := svc.MarkDelivered(ctx, "bob", ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "read messages never regress to delivered")
}

func TestMessage_Delete(t *testing.T) {
	ctx := context.Background()

	ts := []struct {
		name          string
		userID        string
		setupMocks    func(store *tests.MockMessageStore, attachments *tests.MockAttachmentStore)
		expectedError error
	}{
		{
			name:   "Participant deletes with attachments",
			userID: "alice",
			setupMocks: func(store *tests.MockMessageStore, attachments *tests.MockAttachmentStore) {
				store.On("FindByID", ctx, "m1").Return(&models.Message{
					ID: "m1", SenderID: "alice", RecipientID: "bob",
					Attachments: []models.Attachment{{Path: "uploads/a.png"}},
				}, nil)
				attachments.On("Remove", ctx, "uploads/a.png").Return(nil)
				store.On("DeleteMany", ctx, []string{"m1"}).Return(int64(1), nil)
			},
			expectedError: nil,
		},
		{
			name:   "Non-participant is rejected",
			userID: "mallory",
			setupMocks: func(store *tests.MockMessageStore, attachments *tests.MockAttachmentStore) {
				store.On("FindByID", ctx, "m1").Return(&models.Message{
					ID: "m1", SenderID: "alice", RecipientID: "bob",
				}, nil)
			},
			expectedError: services.ErrUnauthorized,
		},
		{
			name:   "Unknown message",
			userID: "alice",
			setupMocks: func(store *tests.MockMessageStore, attachments *tests.MockAttachmentStore) {
				store.On("FindByID", ctx, "m1").Return((*models.Message)(nil), nil)
			},
			expectedError: services.ErrMessageNotFound,
		},
	}

	for _, tc := range ts {
		t.Run(tc.name, func(t *testing.T) {
			store := new(tests.MockMessageStore)
			attachments := new(tests.MockAttachmentStore)
			tc.setupMocks(store, attachments)

			svc := services.NewMessageService(store, new(tests.MockKeyStore), new(tests.MockUserDirectory), attachments, slog.Default())

			err := svc.Delete(ctx, tc.userID, "m1")

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
			} else {
				assert.NoError(t, err)
			}

			store.AssertExpectations(t)
			attachments.AssertExpectations(t)
		})
	}
}

func TestMessage_ExpireAndSweep(t *testing.T) {
	ctx := context.Background()

	store := new(tests.MockMessageStore)
	attachments := new(tests.MockAttachmentStore)

	store.On("FindExpired", ctx, mock.AnythingOfType("time.Time")).Return([]models.Message{
		{ID: "m1", Attachments: []models.Attachment{{Path: "uploads/gone.png"}}},
		{ID: "m2"},
	}, nil).Once()
	// Attachment removal is best-effort; the row goes regardless.
	attachments.On("Remove", ctx, "uploads/gone.png").Return(errors.New("disk error"))
	store.On("DeleteMany", ctx, []string{"m1", "m2"}).Return(int64(2), nil).Once()

	svc := services.NewMessageService(store, new(tests.MockKeyStore), new(tests.MockUserDirectory), attachments, slog.Default())

	deleted, err := svc.ExpireAndSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// A second sweep over the same window finds nothing to do.
	store.On("FindExpired", ctx, mock.AnythingOfType("time.Time")).Return([]models.Message{}, nil).Once()

	deleted, err = svc.ExpireAndSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	store.AssertExpectations(t)
}
