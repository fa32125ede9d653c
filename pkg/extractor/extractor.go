// Package extractor 指纹输入提取器
// 以流式HTML解析器消费响应体，产出检测所需的结构化输入；不构建DOM树
package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"xwappalyzer/pkg/utils/common"

	"golang.org/x/net/html"
)

// ExtractedDoc 单次检测的结构化输入，仅存活于一次检测调用
type ExtractedDoc struct {
	URLs    []string            // 原始输入URL，第0个视为规范URL
	Headers map[string][]string // 响应头，名称已小写
	Cookies map[string][]string // 从Set-Cookie/Cookie解析出的cookie
	Meta    map[string][]string // meta名称(小写) -> content列表
	Scripts []string            // script src，保持出现顺序
	HTML    string              // 响应体文本（UTF-8）
	Title   string              // 第一个<title>文本

	DroppedHeaders int // 因值非法UTF-8而跳过的头数量
}

// Extract 从响应头、URL与响应体构建ExtractedDoc
func Extract(headers map[string][]string, urls []string, body []byte) *ExtractedDoc {
	doc := &ExtractedDoc{
		URLs:    urls,
		Headers: make(map[string][]string, len(headers)),
		Cookies: make(map[string][]string),
		Meta:    make(map[string][]string),
	}

	contentType := ""
	for name, values := range headers {
		lower := strings.ToLower(name)
		for _, value := range values {
			if !utf8.ValidString(value) {
				doc.DroppedHeaders++
				continue
			}
			doc.Headers[lower] = append(doc.Headers[lower], value)
		}
		if lower == "content-type" && len(values) > 0 {
			contentType = values[0]
		}
	}

	parseCookies(doc)

	if len(body) > 0 {
		doc.HTML = decodeBody(contentType, body)
		tokenizeHTML(doc)
	}
	return doc
}

// decodeBody 响应体转UTF-8文本
// 按Content-Type或meta声明的字符集转换，非法序列以替换符兜底
func decodeBody(contentType string, body []byte) string {
	charset := common.SniffCharset(contentType, body)
	return common.Str2UTF8(string(body), charset)
}

// tokenizeHTML 流式遍历HTML标记，提取script src、meta与标题
func tokenizeHTML(doc *ExtractedDoc) {
	tokenizer := html.NewTokenizer(strings.NewReader(doc.HTML))

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			// io.EOF或格式错误都意味着流结束；已收集的信号保留
			return

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			switch string(name) {
			case "script":
				if src := findAttr(tokenizer, hasAttr, "src"); src != "" {
					doc.Scripts = append(doc.Scripts, src)
				}
			case "meta":
				extractMeta(doc, tokenizer, hasAttr)
			case "title":
				if doc.Title == "" && tokenType == html.StartTagToken {
					if tokenizer.Next() == html.TextToken {
						doc.Title = cleanTitle(string(tokenizer.Text()))
					}
				}
			}
		}
	}
}

// findAttr 在当前标签中查找指定属性值
func findAttr(tokenizer *html.Tokenizer, hasAttr bool, want string) string {
	for hasAttr {
		key, value, more := tokenizer.TagAttr()
		if string(bytes.ToLower(key)) == want {
			return string(value)
		}
		hasAttr = more
	}
	return ""
}

// extractMeta 提取meta标签的 name|http-equiv 与 content
func extractMeta(doc *ExtractedDoc, tokenizer *html.Tokenizer, hasAttr bool) {
	var name, content string
	for hasAttr {
		key, value, more := tokenizer.TagAttr()
		switch string(bytes.ToLower(key)) {
		case "name", "http-equiv", "property":
			name = strings.ToLower(string(value))
		case "content":
			content = string(value)
		}
		hasAttr = more
	}
	if name != "" && content != "" {
		doc.Meta[name] = append(doc.Meta[name], content)
	}
}

// cleanTitle 压缩标题中的空白字符
func cleanTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}
