// Package botapi maps bot operations onto the remote service's fixed endpoints.
package botapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	httpclient "github.com/betbot/botdash/pkg/sdk/http"
)

// ImageKind 可上传的图片字段
type ImageKind string

const (
	ImageChatIcon   ImageKind = "chatIcon"
	ImageBotIcon    ImageKind = "botIcon"
	ImageBackground ImageKind = "backgroundImage"
	ImageHeader     ImageKind = "headerImage"
)

// TextKind 可更新的文本字段
type TextKind string

const (
	TextChatbox  TextKind = "chatboxText"
	TextGradient TextKind = "chatGradient"
)

// Resource 刷新时逐个拉取的可选资源
type Resource string

const (
	ResourceChatIcon    Resource = "chatIcon"
	ResourceBotIcon     Resource = "botIcon"
	ResourceBackground  Resource = "backgroundImage"
	ResourceHeader      Resource = "headerImage"
	ResourceChatboxText Resource = "chatboxText"
)

// Resources 拉取顺序
var Resources = []Resource{
	ResourceChatIcon,
	ResourceBotIcon,
	ResourceBackground,
	ResourceHeader,
	ResourceChatboxText,
}

// Media 删除 bot 时一并删除的文件后缀
type Media string

const (
	MediaChatIcon   Media = "chaticon"
	MediaBotIcon    Media = "boticon"
	MediaHeader     Media = "header"
	MediaBackground Media = "bg"
)

// AllMedia 删除顺序
var AllMedia = []Media{MediaChatIcon, MediaBotIcon, MediaHeader, MediaBackground}

const (
	pathList     = "/get-bots-files"
	pathCreate   = "/generate-html"
	pathDelete   = "/delete-file/"
	listSplitSep = ", "
)

var fetchPaths = map[Resource]string{
	ResourceChatIcon:    "/get_chatIcon",
	ResourceBotIcon:     "/get_botIcon",
	ResourceBackground:  "/get_bg",
	ResourceHeader:      "/header_img",
	ResourceChatboxText: "/chatbox_text",
}

// 拉取响应中按顺序查找的字段
var valueKeys = []string{"image", "image_data", "text", "data"}

// Endpoint 资源的拉取路径（不含 code）
func (r Resource) Endpoint() string {
	return fetchPaths[r]
}

// ResourceForImage 图片字段对应的拉取资源
func ResourceForImage(kind ImageKind) (Resource, bool) {
	switch kind {
	case ImageChatIcon:
		return ResourceChatIcon, true
	case ImageBotIcon:
		return ResourceBotIcon, true
	case ImageBackground:
		return ResourceBackground, true
	case ImageHeader:
		return ResourceHeader, true
	}
	return "", false
}

// ResourceForText 文本字段对应的拉取资源；渐变没有拉取接口
func ResourceForText(kind TextKind) (Resource, bool) {
	if kind == TextChatbox {
		return ResourceChatboxText, true
	}
	return "", false
}

// Client 远程服务的 bot 接口
type Client struct {
	http *httpclient.Client
}

func New(c *httpclient.Client) *Client {
	return &Client{http: c}
}

// BaseURL 当前生效的远程地址
func (c *Client) BaseURL() string {
	return c.http.URL("")
}

// ListBotFiles 返回服务端的 bot 文件名列表（形如 name-code.html）
func (c *Client) ListBotFiles(ctx context.Context) ([]string, error) {
	resp, err := c.http.DoRequest(ctx, "GET", pathList, &httpclient.RequestOptions{NoCache: true})
	if err != nil {
		return nil, errors.Wrap(err, "list bot files")
	}

	switch files := resp["files"].(type) {
	case string:
		return splitFiles(files), nil
	case []any:
		out := make([]string, 0, len(files))
		for _, f := range files {
			if s, ok := f.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("list bot files: unexpected files type %T", files)
	}
}

func splitFiles(s string) []string {
	out := []string{}
	for _, f := range strings.Split(s, listSplitSep) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// CreateBot 创建 bot 页面，fileID 为 slug-code
func (c *Client) CreateBot(ctx context.Context, fileID, apiKey string) error {
	_, err := c.http.Post(ctx, pathCreate, map[string]string{
		"filename": fileID,
		"apiKey":   apiKey,
	})
	return errors.Wrapf(err, "create bot %s", fileID)
}

// DeleteBotFile 删除 bot 主文件 {fileID}.html
func (c *Client) DeleteBotFile(ctx context.Context, fileID string) error {
	_, err := c.http.Delete(ctx, pathDelete+url.PathEscape(fileID+".html"))
	return errors.Wrapf(err, "delete bot %s", fileID)
}

// DeleteMedia 删除 bot 的媒体文件 {fileID}-{suffix}.png
func (c *Client) DeleteMedia(ctx context.Context, fileID string, media Media) error {
	_, err := c.http.Delete(ctx, pathDelete+url.PathEscape(fmt.Sprintf("%s-%s.png", fileID, media)))
	return errors.Wrapf(err, "delete %s of %s", media, fileID)
}

// IconFilename 图标上传时的文件名
func IconFilename(fileID string, kind ImageKind) string {
	switch kind {
	case ImageChatIcon:
		return fileID + "-chaticon.png"
	case ImageBotIcon:
		return fileID + "-boticon.png"
	}
	return ""
}

// SaveImage 上传图片（data URI）
func (c *Client) SaveImage(ctx context.Context, kind ImageKind, code, fileID, data string) error {
	var (
		endpoint string
		body     map[string]string
	)
	switch kind {
	case ImageChatIcon:
		endpoint = "/chatIconSave"
		body = map[string]string{"bot_code": code, "filename": IconFilename(fileID, kind), "image_data": data}
	case ImageBotIcon:
		endpoint = "/botIconSave"
		body = map[string]string{"bot_code": code, "filename": IconFilename(fileID, kind), "image_data": data}
	case ImageBackground:
		endpoint = "/bgSave"
		body = map[string]string{"code": code, "image": data}
	case ImageHeader:
		endpoint = "/headerImg"
		body = map[string]string{"code": code, "image": data}
	default:
		return fmt.Errorf("unknown image type %q", kind)
	}

	_, err := c.http.Post(ctx, endpoint, body)
	return errors.Wrapf(err, "save %s for %s", kind, code)
}

// SaveText 更新文本样式
func (c *Client) SaveText(ctx context.Context, kind TextKind, code, text string) error {
	var (
		endpoint string
		body     map[string]string
	)
	switch kind {
	case TextChatbox:
		endpoint = "/chatboxtext"
		body = map[string]string{"text": text, "code": code}
	case TextGradient:
		endpoint = "/chatgradient"
		body = map[string]string{"gradient": text, "code": code}
	default:
		return fmt.Errorf("unknown text type %q", kind)
	}

	_, err := c.http.Post(ctx, endpoint, body)
	return errors.Wrapf(err, "save %s for %s", kind, code)
}

func fetchPath(res Resource, code string) string {
	return res.Endpoint() + "/" + url.PathEscape(code)
}

// FetchResource 拉取单个资源。返回空字符串表示服务端没有值。
// 404 以 *httpclient.HTTPError 返回，调用方用 httpclient.IsNotFound 判断。
func (c *Client) FetchResource(ctx context.Context, res Resource, code string) (string, error) {
	if res.Endpoint() == "" {
		return "", fmt.Errorf("unknown resource %q", res)
	}
	resp, err := c.http.Get(ctx, fetchPath(res, code))
	if err != nil {
		return "", errors.Wrapf(err, "fetch %s for %s", res, code)
	}
	for _, k := range valueKeys {
		if v, ok := resp[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", nil
}

// InvalidateResource 删除资源的 GET 缓存
func (c *Client) InvalidateResource(res Resource, code string) {
	if res.Endpoint() == "" {
		return
	}
	c.http.InvalidateCache(fetchPath(res, code))
}
