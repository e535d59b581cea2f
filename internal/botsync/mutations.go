package botsync

import (
	"context"
	"strings"

	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/pkg/retry"
	httpclient "github.com/betbot/botdash/pkg/sdk/http"
)

// AddBot 创建 bot，成功后立即追加到集合，不等下一次刷新。
// 失败时集合不变。
func (s *Synchronizer) AddBot(ctx context.Context, name, apiKey string) (Bot, error) {
	name = strings.TrimSpace(name)
	apiKey = strings.TrimSpace(apiKey)
	if name == "" {
		return Bot{}, &ValidationError{Field: "name"}
	}
	if apiKey == "" {
		return Bot{}, &ValidationError{Field: "apiKey"}
	}

	code, err := GenerateCode()
	if err != nil {
		return Bot{}, err
	}
	fileID := FileID(name, code)

	if err := s.client.CreateBot(ctx, fileID, apiKey); err != nil {
		syncLog.WithError(err).Errorf("create bot %s failed", fileID)
		return Bot{}, err
	}

	bot := Bot{
		Code:   code,
		Name:   name,
		APIKey: apiKey,
		URL:    BuildURL(s.baseURL(), name, code),
	}

	s.swapTombstones(func(cur map[string]struct{}) map[string]struct{} {
		if _, ok := cur[code]; !ok {
			return nil
		}
		next := make(map[string]struct{}, len(cur))
		for c := range cur {
			if c != code {
				next[c] = struct{}{}
			}
		}
		return next
	})
	s.memo.ForgetBot(code)

	s.mutate(func(bots []Bot) []Bot {
		out := make([]Bot, 0, len(bots)+1)
		for _, b := range bots {
			if b.Code != code {
				out = append(out, b)
			}
		}
		return append(out, bot)
	})
	syncLog.Infof("created bot %s", fileID)
	return bot.Clone(), nil
}

// DeleteBot 先写墓碑再删服务端文件，媒体文件异步删除（失败只记日志）。
// 本地集合无论服务端结果如何都会移除；重复删除不会报错。
func (s *Synchronizer) DeleteBot(ctx context.Context, name, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return &ValidationError{Field: "code"}
	}
	if strings.TrimSpace(name) == "" {
		if b, ok := s.Bot(code); ok {
			name = b.Name
		}
	}
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name"}
	}

	s.swapTombstones(func(cur map[string]struct{}) map[string]struct{} {
		if _, ok := cur[code]; ok {
			return nil
		}
		next := make(map[string]struct{}, len(cur)+1)
		for c := range cur {
			next[c] = struct{}{}
		}
		next[code] = struct{}{}
		return next
	})

	fileID := FileID(name, code)
	err := s.client.DeleteBotFile(ctx, fileID)
	if httpclient.IsNotFound(err) {
		err = nil
	}

	bg := context.WithoutCancel(ctx)
	for _, media := range botapi.AllMedia {
		media := media
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if err := s.client.DeleteMedia(bg, fileID, media); err != nil && !httpclient.IsNotFound(err) {
				syncLog.WithError(err).Warnf("delete %s of %s failed", media, fileID)
			}
		}()
	}

	s.memo.ForgetBot(code)
	s.mutate(func(bots []Bot) []Bot {
		out := make([]Bot, 0, len(bots))
		for _, b := range bots {
			if b.Code != code {
				out = append(out, b)
			}
		}
		return out
	})

	if err != nil {
		syncLog.WithError(err).Errorf("delete bot %s failed", fileID)
		return err
	}
	syncLog.Infof("deleted bot %s", fileID)
	return nil
}

// UpdateBotImage 上传图片（指数退避重试），成功后原地更新集合
func (s *Synchronizer) UpdateBotImage(ctx context.Context, bot Bot, kind botapi.ImageKind, data string) (Bot, error) {
	res, ok := botapi.ResourceForImage(kind)
	if !ok {
		return Bot{}, &ValidationError{Field: "imageType"}
	}
	if bot.Code == "" {
		return Bot{}, &ValidationError{Field: "code"}
	}
	if data == "" {
		return Bot{}, &ValidationError{Field: "imageData"}
	}

	fileID := bot.FileID()
	err := retry.Do(ctx, s.imageRetry, func(ctx context.Context, attempt int) error {
		return s.client.SaveImage(ctx, kind, bot.Code, fileID, data)
	})
	if err != nil {
		syncLog.WithError(err).Errorf("update %s for %s failed", kind, bot.Code)
		return Bot{}, err
	}

	s.memo.Forget(failureKey(bot.Code, res))
	s.client.InvalidateResource(res, bot.Code)
	return s.applyUpdate(bot, func(b *Bot) { b.setImage(kind, data) }), nil
}

// UpdateBotText 更新文本样式（线性退避重试），成功后原地更新集合
func (s *Synchronizer) UpdateBotText(ctx context.Context, bot Bot, kind botapi.TextKind, text string) (Bot, error) {
	if kind != botapi.TextChatbox && kind != botapi.TextGradient {
		return Bot{}, &ValidationError{Field: "textType"}
	}
	if bot.Code == "" {
		return Bot{}, &ValidationError{Field: "code"}
	}

	err := retry.Do(ctx, s.retry, func(ctx context.Context, attempt int) error {
		return s.client.SaveText(ctx, kind, bot.Code, text)
	})
	if err != nil {
		syncLog.WithError(err).Errorf("update %s for %s failed", kind, bot.Code)
		return Bot{}, err
	}

	if res, ok := botapi.ResourceForText(kind); ok {
		s.memo.Forget(failureKey(bot.Code, res))
		s.client.InvalidateResource(res, bot.Code)
	}
	return s.applyUpdate(bot, func(b *Bot) { b.setText(kind, text) }), nil
}

// applyUpdate 替换集合中 code 相同的 bot；不在集合中时只返回更新后的副本
func (s *Synchronizer) applyUpdate(bot Bot, set func(b *Bot)) Bot {
	updated := bot.Clone()
	set(&updated)
	s.mutate(func(bots []Bot) []Bot {
		for i := range bots {
			if bots[i].Code != bot.Code {
				continue
			}
			out := make([]Bot, len(bots))
			copy(out, bots)
			next := out[i].Clone()
			set(&next)
			out[i] = next
			updated = next.Clone()
			return out
		}
		return bots
	})
	return updated
}
