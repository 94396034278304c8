package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creatorstation/publisher/internal/config"
	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
)

var telegramConstraints = Constraints{
	MaxTextLength:      4096,
	MaxCaptionLength:   1024,
	MaxMedia:           10,
	AllowedKinds:       []models.MediaKind{models.MediaImage, models.MediaVideo},
	MaxImageMegapixels: 10,
}

// BotAPI is the subset of telego.Bot the adapter uses, so tests can mock it.
type BotAPI interface {
	GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error)
	GetChatMemberCount(ctx context.Context, params *telego.GetChatMemberCountParams) (*int, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)
	SendMediaGroup(ctx context.Context, params *telego.SendMediaGroupParams) ([]telego.Message, error)
	LeaveChat(ctx context.Context, params *telego.LeaveChatParams) error
}

// TelegramAdapter posts to channels where the service bot is an administrator.
// There is no OAuth: authorization is a deep link that adds the bot to a
// channel, and the "code" is the channel's @username or numeric id. The
// stored access token is the resolved chat id and never expires.
type TelegramAdapter struct {
	bot         BotAPI
	botUsername string
	logger      logging.Logger
}

func NewTelegram(creds config.TelegramCredentials, logger logging.Logger) (*TelegramAdapter, error) {
	bot, err := telego.NewBot(creds.BotToken, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramWithBot(bot, creds.BotUsername, logger), nil
}

func NewTelegramWithBot(bot BotAPI, botUsername string, logger logging.Logger) *TelegramAdapter {
	return &TelegramAdapter{bot: bot, botUsername: strings.TrimPrefix(botUsername, "@"), logger: logger}
}

func (a *TelegramAdapter) Platform() string         { return Telegram }
func (a *TelegramAdapter) Constraints() Constraints { return telegramConstraints }

func (a *TelegramAdapter) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("startchannel", state)
	q.Set("admin", "post_messages")
	return "https://t.me/" + a.botUsername + "?" + q.Encode()
}

func (a *TelegramAdapter) ExchangeCode(ctx context.Context, code, _ string) (*Token, error) {
	chat, err := a.bot.GetChat(ctx, &telego.GetChatParams{ChatID: chatID(code)})
	if err != nil {
		return nil, errs.Wrap(errs.AuthExchangeFailed, err, "cannot resolve chat %q", code).On("platform", Telegram)
	}
	if chat.Type != telego.ChatTypeChannel && chat.Type != telego.ChatTypeSupergroup {
		return nil, errs.New(errs.AuthExchangeFailed, "chat %q is a %s, not a channel", code, chat.Type).On("platform", Telegram)
	}

	id := strconv.FormatInt(chat.ID, 10)
	return &Token{AccessToken: id, ExternalAccountID: id, Scopes: []string{"post_messages"}}, nil
}

func (a *TelegramAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	return nil, errs.New(errs.RefreshFailed, "telegram connections do not expire; re-add the bot to the channel").On("platform", Telegram)
}

func (a *TelegramAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	chat, err := a.bot.GetChat(ctx, &telego.GetChatParams{ChatID: chatID(accessToken)})
	if err != nil {
		return nil, telegramClassify(err)
	}

	profile := &Profile{
		ExternalAccountID: strconv.FormatInt(chat.ID, 10),
		DisplayName:       chat.Title,
		Username:          chat.Username,
		Extra: map[string]any{
			"type":        chat.Type,
			"description": chat.Description,
		},
	}

	count, err := a.bot.GetChatMemberCount(ctx, &telego.GetChatMemberCountParams{ChatID: chatID(accessToken)})
	if err != nil {
		a.logger.WithError(err).WithField("chat", accessToken).Warn("Failed to read channel member count")
	} else if count != nil {
		profile.Followers = int64(*count)
	}
	return profile, nil
}

func (a *TelegramAdapter) Publish(ctx context.Context, accessToken, externalAccountID string, content Content, media []models.MediaRef) (*Receipt, error) {
	if err := a.Constraints().Check(Telegram, content, media); err != nil {
		return nil, err
	}
	target := chatID(externalAccountID)

	var messageID int
	switch len(media) {
	case 0:
		msg, err := a.bot.SendMessage(ctx, tu.Message(target, content.Text))
		if err != nil {
			return nil, telegramClassify(err)
		}
		messageID = msg.MessageID
	case 1:
		file, err := a.inputFile(ctx, media[0], 0)
		if err != nil {
			return nil, err
		}
		var msg *telego.Message
		if media[0].Kind == models.MediaVideo {
			msg, err = a.bot.SendVideo(ctx, tu.Video(target, file).WithCaption(content.Text))
		} else {
			msg, err = a.bot.SendPhoto(ctx, tu.Photo(target, file).WithCaption(content.Text))
		}
		if err != nil {
			return nil, telegramClassify(err)
		}
		messageID = msg.MessageID
	default:
		group := make([]telego.InputMedia, 0, len(media))
		for i, m := range media {
			file, err := a.inputFile(ctx, m, i)
			if err != nil {
				return nil, err
			}
			caption := ""
			if i == 0 {
				caption = content.Text
			}
			if m.Kind == models.MediaVideo {
				group = append(group, tu.MediaVideo(file).WithCaption(caption))
			} else {
				group = append(group, tu.MediaPhoto(file).WithCaption(caption))
			}
		}
		msgs, err := a.bot.SendMediaGroup(ctx, tu.MediaGroup(target, group...))
		if err != nil {
			return nil, telegramClassify(err)
		}
		if len(msgs) == 0 {
			return nil, errs.New(errs.DeliveryFailed, "media group sent without messages").On("platform", Telegram)
		}
		messageID = msgs[0].MessageID
	}

	return &Receipt{
		ExternalPostID: strconv.Itoa(messageID),
		URL:            messageURL(externalAccountID, messageID),
	}, nil
}

// inputFile uploads photos as bytes so oversized images can be downscaled;
// videos are passed by URL and fetched by Telegram.
func (a *TelegramAdapter) inputFile(ctx context.Context, ref models.MediaRef, i int) (telego.InputFile, error) {
	if ref.Kind == models.MediaVideo {
		return tu.FileFromURL(ref.URL), nil
	}
	data, _, err := fetchMedia(ctx, Telegram, ref, telegramConstraints.MaxImageMegapixels)
	if err != nil {
		return telego.InputFile{}, err
	}
	return tu.File(tu.NameReader(bytes.NewReader(data), fileName(ref, i))), nil
}

func (a *TelegramAdapter) Revoke(ctx context.Context, accessToken string) {
	if err := a.bot.LeaveChat(ctx, &telego.LeaveChatParams{ChatID: chatID(accessToken)}); err != nil {
		a.logger.WithError(err).WithField("platform", Telegram).Warn("Failed to leave channel")
	}
}

func telegramClassify(err error) error {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return errs.Wrap(errs.DeliveryFailed, err, "request failed").On("platform", Telegram)
	}

	switch {
	case apiErr.ErrorCode == 429:
		wait := defaultRetryAfter
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			wait = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return errs.New(errs.RateLimited, "%s", apiErr.Description).On("platform", Telegram).WithRetryAfter(wait)
	case apiErr.ErrorCode == 401 || apiErr.ErrorCode == 403:
		return errs.New(errs.Forbidden, "%s", apiErr.Description).On("platform", Telegram)
	default:
		return errs.New(errs.DeliveryFailed, "%s", apiErr.Description).On("platform", Telegram)
	}
}

func chatID(s string) telego.ChatID {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return tu.ID(id)
	}
	if !strings.HasPrefix(s, "@") {
		s = "@" + s
	}
	return tu.Username(s)
}

// messageURL links to a channel post. Private channels use the /c/ form with
// the -100 prefix stripped from the id.
func messageURL(chat string, messageID int) string {
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		internal := strings.TrimPrefix(strconv.FormatInt(id, 10), "-100")
		return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
	}
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(chat, "@"), messageID)
}
