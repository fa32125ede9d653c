package extractor

import "strings"

// parseCookies 从已归一化的响应头中解析cookie
// Set-Cookie 取第一个属性按首个 = 切分，忽略Path/Domain/Max-Age等属性；
// 请求侧 Cookie 头按 ; 切分后再按 = 切分
func parseCookies(doc *ExtractedDoc) {
	for _, value := range doc.Headers["set-cookie"] {
		first, _, _ := strings.Cut(value, ";")
		addCookie(doc, first)
	}

	for _, value := range doc.Headers["cookie"] {
		for _, pair := range strings.Split(value, ";") {
			addCookie(doc, pair)
		}
	}
}

// addCookie 解析单个 name=value 对并写入cookie表
func addCookie(doc *ExtractedDoc, pair string) {
	name, value, found := strings.Cut(pair, "=")
	if !found {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	doc.Cookies[name] = append(doc.Cookies[name], strings.TrimSpace(value))
}
