package botsync

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"

	"github.com/betbot/botdash/internal/botapi"
)

// 未设置字段时的渲染默认值
const (
	PlaceholderImage    = "/placeholder.svg"
	DefaultChatboxText  = "Hi! How can I help you today?"
	DefaultChatGradient = "linear-gradient(135deg, #667eea 0%, #764ba2 100%)"
)

// CodeLength 新 bot code 的长度
const CodeLength = 10

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Bot 一个 bot。Code 创建后不变，URL 由 (Name, Code) 推导。
type Bot struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	APIKey          string  `json:"apiKey,omitempty"` // 只写，服务端不会返回
	URL             string  `json:"url"`
	ChatIcon        *string `json:"chatIcon,omitempty"`
	BotIcon         *string `json:"botIcon,omitempty"`
	BackgroundImage *string `json:"backgroundImage,omitempty"`
	HeaderImage     *string `json:"headerImage,omitempty"`
	ChatboxText     *string `json:"chatboxText,omitempty"`
	ChatGradient    *string `json:"chatGradient,omitempty"`
}

// FileID 服务端文件标识 slug-code
func (b Bot) FileID() string {
	return FileID(b.Name, b.Code)
}

func orDefault(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// ImageOr 图片字段，未设置时返回 PlaceholderImage
func (b Bot) ImageOr(kind botapi.ImageKind) string {
	return orDefault(b.imageField(kind), PlaceholderImage)
}

// ChatIconOr 聊天图标，未设置时返回 PlaceholderImage
func (b Bot) ChatIconOr() string {
	return orDefault(b.ChatIcon, PlaceholderImage)
}

// TextOr 文本字段，未设置时返回对应默认值
func (b Bot) TextOr(kind botapi.TextKind) string {
	switch kind {
	case botapi.TextChatbox:
		return orDefault(b.ChatboxText, DefaultChatboxText)
	case botapi.TextGradient:
		return orDefault(b.ChatGradient, DefaultChatGradient)
	}
	return ""
}

func (b Bot) imageField(kind botapi.ImageKind) *string {
	switch kind {
	case botapi.ImageChatIcon:
		return b.ChatIcon
	case botapi.ImageBotIcon:
		return b.BotIcon
	case botapi.ImageBackground:
		return b.BackgroundImage
	case botapi.ImageHeader:
		return b.HeaderImage
	}
	return nil
}

func (b *Bot) setImage(kind botapi.ImageKind, v string) {
	switch kind {
	case botapi.ImageChatIcon:
		b.ChatIcon = &v
	case botapi.ImageBotIcon:
		b.BotIcon = &v
	case botapi.ImageBackground:
		b.BackgroundImage = &v
	case botapi.ImageHeader:
		b.HeaderImage = &v
	}
}

func (b *Bot) setText(kind botapi.TextKind, v string) {
	switch kind {
	case botapi.TextChatbox:
		b.ChatboxText = &v
	case botapi.TextGradient:
		b.ChatGradient = &v
	}
}

func (b *Bot) setResource(res botapi.Resource, v string) {
	switch res {
	case botapi.ResourceChatIcon:
		b.setImage(botapi.ImageChatIcon, v)
	case botapi.ResourceBotIcon:
		b.setImage(botapi.ImageBotIcon, v)
	case botapi.ResourceBackground:
		b.setImage(botapi.ImageBackground, v)
	case botapi.ResourceHeader:
		b.setImage(botapi.ImageHeader, v)
	case botapi.ResourceChatboxText:
		b.setText(botapi.TextChatbox, v)
	}
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone 深拷贝
func (b Bot) Clone() Bot {
	b.ChatIcon = clonePtr(b.ChatIcon)
	b.BotIcon = clonePtr(b.BotIcon)
	b.BackgroundImage = clonePtr(b.BackgroundImage)
	b.HeaderImage = clonePtr(b.HeaderImage)
	b.ChatboxText = clonePtr(b.ChatboxText)
	b.ChatGradient = clonePtr(b.ChatGradient)
	return b
}

func cloneBots(in []Bot) []Bot {
	out := make([]Bot, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

// Slugify 小写，连续空白替换为一个 '-'
func Slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// FileID slug-code
func FileID(name, code string) string {
	return Slugify(name) + "-" + code
}

// BuildURL {backend}/agent/{slug}/{code}
func BuildURL(base, name, code string) string {
	return strings.TrimRight(base, "/") + "/agent/" + Slugify(name) + "/" + code
}

var fileNamePattern = regexp.MustCompile(`^(.+)-([A-Za-z0-9]+)\.html$`)

// ParseFileName 从 name-code.html 中解析 name 和 code
func ParseFileName(file string) (name, code string, ok bool) {
	m := fileNamePattern.FindStringSubmatch(strings.TrimSpace(file))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// GenerateCode 用 crypto/rand 生成 CodeLength 位字母数字 code。
// 拒绝采样保证每个字符均匀分布。
func GenerateCode() (string, error) {
	const n = len(codeAlphabet)
	const limit = 256 - 256%n

	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%n])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}
