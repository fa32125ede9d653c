package cli

import "fmt"

// Banner 工具banner
var Banner = "                                          __\n" +
	" _  ___      ______ _____  ____ _      __/ /_  ______  ___  _____\n" +
	"| |/_/ | /| / / __ `/ __ \\/ __ \\ | /| / / __ \\/ / / / /_ / / _ \\\n" +
	"_>  < | |/ |/ / /_/ / /_/ / /_/ / |/ |/ / / / / /_/ /  / /_/  __/\n" +
	"/_/|_| |__/|__/\\__,_/ .___/ .___/|__/|__/_/ /_/\\__, /  /___/\\___/\n" +
	"                   /_/   /_/                  /____/\n\n"

// DisplayBanner 打印banner信息
func DisplayBanner() {
	fmt.Print(Banner)
	fmt.Printf("    Version:%s  Author:%s  BuildDate:%s\n\n", defaultVersion, defaultAuthor, defaultBuildDate)
}
