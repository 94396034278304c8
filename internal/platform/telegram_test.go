package platform

import (
	"context"
	"testing"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBot struct {
	mock.Mock
}

func (m *mockBot) GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error) {
	args := m.Called(ctx, params)
	chat, _ := args.Get(0).(*telego.ChatFullInfo)
	return chat, args.Error(1)
}

func (m *mockBot) GetChatMemberCount(ctx context.Context, params *telego.GetChatMemberCountParams) (*int, error) {
	args := m.Called(ctx, params)
	count, _ := args.Get(0).(*int)
	return count, args.Error(1)
}

func (m *mockBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *mockBot) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *mockBot) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	args := m.Called(ctx, params)
	msg, _ := args.Get(0).(*telego.Message)
	return msg, args.Error(1)
}

func (m *mockBot) SendMediaGroup(ctx context.Context, params *telego.SendMediaGroupParams) ([]telego.Message, error) {
	args := m.Called(ctx, params)
	msgs, _ := args.Get(0).([]telego.Message)
	return msgs, args.Error(1)
}

func (m *mockBot) LeaveChat(ctx context.Context, params *telego.LeaveChatParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func TestTelegramExchangeAcceptsChannels(t *testing.T) {
	bot := new(mockBot)
	bot.On("GetChat", mock.Anything, &telego.GetChatParams{ChatID: tu.Username("@news")}).
		Return(&telego.ChatFullInfo{ID: -1001234, Type: telego.ChatTypeChannel, Title: "News"}, nil)
	bot.On("GetChat", mock.Anything, &telego.GetChatParams{ChatID: tu.Username("@friend")}).
		Return(&telego.ChatFullInfo{ID: 42, Type: telego.ChatTypePrivate}, nil)

	a := NewTelegramWithBot(bot, "@publisher_bot", logging.NewDiscardLogger())
	assert.Equal(t, "https://t.me/publisher_bot?admin=post_messages&startchannel=s1", a.AuthorizationURL("s1"))

	token, err := a.ExchangeCode(context.Background(), "news", "")
	require.NoError(t, err)
	assert.Equal(t, "-1001234", token.AccessToken)
	assert.Nil(t, token.ExpiresAt)

	_, err = a.ExchangeCode(context.Background(), "@friend", "")
	assert.True(t, errs.Is(err, errs.AuthExchangeFailed))
	bot.AssertExpectations(t)
}

func TestTelegramPublishText(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *telego.SendMessageParams) bool {
		return p.ChatID.ID == -1001234 && p.Text == "hello channel"
	})).Return(&telego.Message{MessageID: 7}, nil)

	a := NewTelegramWithBot(bot, "publisher_bot", logging.NewDiscardLogger())
	receipt, err := a.Publish(context.Background(), "-1001234", "-1001234", Content{Text: "hello channel"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "7", receipt.ExternalPostID)
	assert.Equal(t, "https://t.me/c/1234/7", receipt.URL)
	bot.AssertExpectations(t)
}

func TestTelegramPublishVideoByURL(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendVideo", mock.Anything, mock.MatchedBy(func(p *telego.SendVideoParams) bool {
		return p.Video.URL == "https://cdn.example/v.mp4" && p.Caption == "watch"
	})).Return(&telego.Message{MessageID: 9}, nil)

	a := NewTelegramWithBot(bot, "publisher_bot", logging.NewDiscardLogger())
	receipt, err := a.Publish(context.Background(), "@news", "@news", Content{Text: "watch"},
		[]models.MediaRef{{URL: "https://cdn.example/v.mp4", Kind: models.MediaVideo}})
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/news/9", receipt.URL)
}

func TestTelegramFloodWaitIsRateLimited(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, mock.Anything).Return(nil, &telegoapi.Error{
		ErrorCode:   429,
		Description: "Too Many Requests: retry after 17",
		Parameters:  &telegoapi.ResponseParameters{RetryAfter: 17},
	})

	a := NewTelegramWithBot(bot, "publisher_bot", logging.NewDiscardLogger())
	_, err := a.Publish(context.Background(), "-1001234", "-1001234", Content{Text: "hi"}, nil)
	assert.True(t, errs.Is(err, errs.RateLimited))
	assert.Equal(t, 17*time.Second, errs.RetryAfterOf(err))
}

func TestTelegramBotRemovedIsForbidden(t *testing.T) {
	bot := new(mockBot)
	bot.On("SendMessage", mock.Anything, mock.Anything).Return(nil, &telegoapi.Error{
		ErrorCode:   403,
		Description: "Forbidden: bot is not a member of the channel chat",
	})

	a := NewTelegramWithBot(bot, "publisher_bot", logging.NewDiscardLogger())
	_, err := a.Publish(context.Background(), "-1001234", "-1001234", Content{Text: "hi"}, nil)
	assert.True(t, errs.Is(err, errs.Forbidden))
}

func TestTelegramRefreshAlwaysFails(t *testing.T) {
	a := NewTelegramWithBot(new(mockBot), "publisher_bot", logging.NewDiscardLogger())
	_, err := a.Refresh(context.Background(), "anything")
	assert.True(t, errs.Is(err, errs.RefreshFailed))
}
