package detector

import (
	"testing"

	"xwappalyzer/pkg/rule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// webLibrary 构造覆盖各维度与关联规则的测试规则库
func webLibrary() *rule.Library {
	lib := rule.NewLibrary()
	lib.Categories[1] = &rule.CategoryRule{ID: 1, Name: "CMS"}
	lib.Categories[22] = &rule.CategoryRule{ID: 22, Name: "Web servers"}
	lib.Categories[27] = &rule.CategoryRule{ID: 27, Name: "Programming languages"}
	lib.Categories[59] = &rule.CategoryRule{ID: 59, Name: "JavaScript libraries"}

	lib.Technologies["nginx"] = &rule.TechRule{
		Name:        "nginx",
		CategoryIDs: []int{22},
		Headers:     map[string][]string{"server": {`nginx(?:/([\d.]+))?\;version:\1`}},
	}
	lib.Technologies["Apache"] = &rule.TechRule{
		Name:        "Apache",
		CategoryIDs: []int{22},
		Headers:     map[string][]string{"server": {`Apache(?:/([\d.]+))?\;version:\1`}},
		Excludes:    []string{"nginx"},
	}
	lib.Technologies["PHP"] = &rule.TechRule{
		Name:        "PHP",
		CategoryIDs: []int{27},
	}
	lib.Technologies["WordPress"] = &rule.TechRule{
		Name:        "WordPress",
		CategoryIDs: []int{1},
		Meta:        map[string][]string{"generator": {`WordPress(?: ([\d.]+))?\;version:\1`}},
		Implies:     []rule.ImplyRef{{Tech: "PHP", Confidence: 100}},
	}
	lib.Technologies["WP Plugin X"] = &rule.TechRule{
		Name:     "WP Plugin X",
		HTML:     []string{`wp-plugin-x`},
		Requires: []string{"WordPress"},
	}
	lib.Technologies["jQuery"] = &rule.TechRule{
		Name:        "jQuery",
		CategoryIDs: []int{59},
		Scripts:     []string{`jquery[.-]([\d.]+)(?:[.-]min)?\.js\;version:\1`},
	}
	return lib
}

func TestScenarioHeaderOnly(t *testing.T) {
	d := New(webLibrary())

	techs, err := d.Detect(map[string][]string{"Server": {"nginx/1.18.0"}}, []string{"https://x"}, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "nginx", techs[0].Name)
	assert.Equal(t, []string{"Web servers"}, techs[0].Categories)
	assert.Equal(t, 100, techs[0].Confidence)
	assert.Equal(t, "1.18.0", techs[0].Version)
	assert.Empty(t, techs[0].ImpliedBy)
}

func TestScenarioMetaWithImplication(t *testing.T) {
	d := New(webLibrary())
	body := []byte(`<meta name="generator" content="WordPress 6.4">`)

	techs, err := d.Detect(nil, []string{"https://x"}, body)
	require.NoError(t, err)
	require.Len(t, techs, 2)

	byName := indexByName(techs)
	wordpress := byName["WordPress"]
	require.NotNil(t, wordpress)
	assert.Equal(t, 100, wordpress.Confidence)
	assert.Equal(t, "6.4", wordpress.Version)
	assert.Empty(t, wordpress.ImpliedBy)

	php := byName["PHP"]
	require.NotNil(t, php)
	assert.Equal(t, 100, php.Confidence)
	assert.Equal(t, "WordPress", php.ImpliedBy)
}

func TestScenarioScriptSrc(t *testing.T) {
	d := New(webLibrary())
	body := []byte(`<script src="/static/jquery-3.7.1.min.js"></script>`)

	techs, err := d.Detect(nil, []string{"https://x"}, body)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "jQuery", techs[0].Name)
	assert.Equal(t, 100, techs[0].Confidence)
	assert.Equal(t, "3.7.1", techs[0].Version)
}

func TestScenarioExcludes(t *testing.T) {
	lib := webLibrary()
	// 给nginx加一条弱HTML模式，保证排斥前它确实命中
	lib.Technologies["nginx"].HTML = []string{`nginx\;confidence:20`}
	d := New(lib)

	headers := map[string][]string{"Server": {"Apache/2.4.41"}}
	techs, err := d.Detect(headers, []string{"https://x"}, []byte("<html>nginx mention</html>"))
	require.NoError(t, err)

	byName := indexByName(techs)
	assert.Contains(t, byName, "Apache")
	assert.NotContains(t, byName, "nginx")
}

func TestScenarioRequiresUnmet(t *testing.T) {
	d := New(webLibrary())

	techs, err := d.Detect(nil, []string{"https://x"}, []byte(`<div class="wp-plugin-x"></div>`))
	require.NoError(t, err)
	assert.Empty(t, techs)
}

func TestScenarioRequiresMet(t *testing.T) {
	d := New(webLibrary())
	body := []byte(`<meta name="generator" content="WordPress 6.4"><div class="wp-plugin-x"></div>`)

	techs, err := d.Detect(nil, []string{"https://x"}, body)
	require.NoError(t, err)
	assert.Contains(t, indexByName(techs), "WP Plugin X")
}

func TestScenarioConfidenceCapped(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["TechA"] = &rule.TechRule{
		Name: "TechA",
		Headers: map[string][]string{
			"server":       {`techa\;confidence:60`},
			"x-powered-by": {`techa\;confidence:60`},
		},
	}
	d := New(lib)

	headers := map[string][]string{
		"Server":       {"TechA/1.0"},
		"X-Powered-By": {"TechA"},
	}
	techs, err := d.Detect(headers, nil, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, 100, techs[0].Confidence)
}

func TestMultiValuedHeaderCountedOncePerPattern(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["TechA"] = &rule.TechRule{
		Name:    "TechA",
		Headers: map[string][]string{"via": {`proxy\;confidence:40`}},
	}
	d := New(lib)

	headers := map[string][]string{"Via": {"proxy-1", "proxy-2"}}
	techs, err := d.Detect(headers, nil, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	// 两个值都能命中，但同一模式至多计一次
	assert.Equal(t, 40, techs[0].Confidence)
}

func TestZeroConfidencePatternDropped(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["TechA"] = &rule.TechRule{
		Name:    "TechA",
		Headers: map[string][]string{"server": {`techa\;confidence:0`}},
	}
	d := New(lib)

	techs, err := d.Detect(map[string][]string{"Server": {"techa"}}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, techs)
}

func TestImplicationCycleTerminates(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["A"] = &rule.TechRule{
		Name:    "A",
		Headers: map[string][]string{"server": {"techa"}},
		Implies: []rule.ImplyRef{{Tech: "B", Confidence: 100}},
	}
	lib.Technologies["B"] = &rule.TechRule{
		Name:    "B",
		Implies: []rule.ImplyRef{{Tech: "A", Confidence: 100}},
	}
	d := New(lib)

	techs, err := d.Detect(map[string][]string{"Server": {"techa"}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, techs, 2)

	byName := indexByName(techs)
	assert.Empty(t, byName["A"].ImpliedBy)
	assert.Equal(t, "A", byName["B"].ImpliedBy)
}

func TestImplicationChainFixpoint(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["A"] = &rule.TechRule{
		Name:    "A",
		Headers: map[string][]string{"server": {"techa"}},
		Implies: []rule.ImplyRef{{Tech: "B", Confidence: 100}},
	}
	lib.Technologies["B"] = &rule.TechRule{
		Name:    "B",
		Implies: []rule.ImplyRef{{Tech: "C", Confidence: 60}},
	}
	lib.Technologies["C"] = &rule.TechRule{Name: "C"}
	d := New(lib)

	techs, err := d.Detect(map[string][]string{"Server": {"techa"}}, nil, nil)
	require.NoError(t, err)

	byName := indexByName(techs)
	require.Contains(t, byName, "C")
	// 链式推导的置信度取边声明值与父技术当前值的较小者
	assert.Equal(t, 60, byName["C"].Confidence)
	assert.Equal(t, "B", byName["C"].ImpliedBy)
}

func TestImpliedByOnlyWithoutDirectMatch(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["A"] = &rule.TechRule{
		Name:    "A",
		Headers: map[string][]string{"server": {"techa"}},
		Implies: []rule.ImplyRef{{Tech: "B", Confidence: 100}},
	}
	lib.Technologies["B"] = &rule.TechRule{
		Name:    "B",
		Headers: map[string][]string{"x-powered-by": {"techb"}},
	}
	d := New(lib)

	headers := map[string][]string{"Server": {"techa"}, "X-Powered-By": {"techb"}}
	techs, err := d.Detect(headers, nil, nil)
	require.NoError(t, err)

	// B有直接命中，implied_by不设置
	assert.Empty(t, indexByName(techs)["B"].ImpliedBy)
}

func TestEmptyInputs(t *testing.T) {
	d := New(webLibrary())

	techs, err := d.Detect(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, techs)
}

func TestAllHeadersInvalidAndEmptyBody(t *testing.T) {
	d := New(webLibrary())

	headers := map[string][]string{"Server": {string([]byte{0xff, 0xfe})}}
	_, err := d.Detect(headers, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidHeaders)

	// 响应体非空时同样的头不再致错
	techs, err := d.Detect(headers, nil, []byte("<html></html>"))
	require.NoError(t, err)
	assert.Empty(t, techs)
}

func TestDeterministicOutput(t *testing.T) {
	d := New(webLibrary())
	headers := map[string][]string{"Server": {"nginx/1.18.0"}}
	body := []byte(`<meta name="generator" content="WordPress 6.4"><script src="/jquery-3.7.1.js"></script>`)

	first, err := d.Detect(headers, []string{"https://x"}, body)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := d.Detect(headers, []string{"https://x"}, body)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestOutputOrdering(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["Zeta"] = &rule.TechRule{
		Name:    "Zeta",
		Headers: map[string][]string{"server": {`marker\;confidence:80`}},
	}
	lib.Technologies["Alpha"] = &rule.TechRule{
		Name:    "Alpha",
		Headers: map[string][]string{"server": {`marker\;confidence:80`}},
	}
	lib.Technologies["Mid"] = &rule.TechRule{
		Name:    "Mid",
		Headers: map[string][]string{"server": {`marker\;confidence:90`}},
	}
	d := New(lib)

	techs, err := d.Detect(map[string][]string{"Server": {"marker"}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, techs, 3)
	// 置信度降序，同分按名称升序
	assert.Equal(t, "Mid", techs[0].Name)
	assert.Equal(t, "Alpha", techs[1].Name)
	assert.Equal(t, "Zeta", techs[2].Name)
}

func TestVersionPickLexicographicallyLargest(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["TechA"] = &rule.TechRule{
		Name: "TechA",
		Headers: map[string][]string{
			"server":       {`techa/([\d.]+)\;version:\1`},
			"x-powered-by": {`techa/([\d.]+)\;version:\1`},
		},
	}
	d := New(lib)

	headers := map[string][]string{
		"Server":       {"techa/1.2"},
		"X-Powered-By": {"techa/1.10"},
	}
	techs, err := d.Detect(headers, nil, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "1.2", techs[0].Version)
}

func TestURLDimension(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["PHP"] = &rule.TechRule{
		Name: "PHP",
		URL:  []string{`\.php(?:$|\?)`},
	}
	d := New(lib)

	techs, err := d.Detect(nil, []string{"https://x/index.php"}, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "PHP", techs[0].Name)

	// 非首个URL同样参与匹配
	techs, err = d.Detect(nil, []string{"https://x/", "https://x/login.php"}, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
}

func TestCookieDimension(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["Laravel"] = &rule.TechRule{
		Name:    "Laravel",
		Cookies: map[string][]string{"laravel_session": {""}},
	}
	d := New(lib)

	headers := map[string][]string{"Set-Cookie": {"laravel_session=eyJpdiI6; Path=/; HttpOnly"}}
	techs, err := d.Detect(headers, nil, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "Laravel", techs[0].Name)
}

func TestDOMDimension(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["Bootstrap"] = &rule.TechRule{
		Name: "Bootstrap",
		DOM:  []rule.DOMRule{{Selector: "link[href*='bootstrap']", Check: "href", Pattern: `bootstrap(?:[.-]([\d.]+))?(?:\.min)?\.css\;version:\1`}},
	}
	lib.Technologies["Next.js"] = &rule.TechRule{
		Name: "Next.js",
		DOM:  []rule.DOMRule{{Selector: "#__next", Check: "exists"}},
	}
	d := New(lib)

	body := []byte(`<html><head><link rel="stylesheet" href="/css/bootstrap-5.3.2.min.css"></head><body><div id="__next"></div></body></html>`)
	techs, err := d.Detect(nil, nil, body)
	require.NoError(t, err)

	byName := indexByName(techs)
	require.Contains(t, byName, "Bootstrap")
	assert.Equal(t, "5.3.2", byName["Bootstrap"].Version)
	assert.Contains(t, byName, "Next.js")
}

func TestRequiresCategory(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Categories[1] = &rule.CategoryRule{ID: 1, Name: "CMS"}
	lib.Technologies["Addon"] = &rule.TechRule{
		Name:             "Addon",
		Headers:          map[string][]string{"server": {"addon"}},
		RequiresCategory: []int{1},
	}
	lib.Technologies["SomeCMS"] = &rule.TechRule{
		Name:        "SomeCMS",
		CategoryIDs: []int{1},
		Headers:     map[string][]string{"x-cms": {"somecms"}},
	}
	d := New(lib)

	// 分类未出现：剔除
	techs, err := d.Detect(map[string][]string{"Server": {"addon"}}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, techs)

	// 分类出现：保留
	headers := map[string][]string{"Server": {"addon"}, "X-CMS": {"somecms"}}
	techs, err = d.Detect(headers, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, indexByName(techs), "Addon")
}

func TestDetectLite(t *testing.T) {
	lib := rule.NewLibrary()
	lib.Technologies["A"] = &rule.TechRule{
		Name:    "A",
		Headers: map[string][]string{"server": {`techa/([\d.]+)\;version:\1`}},
		Implies: []rule.ImplyRef{{Tech: "B", Confidence: 100}},
	}
	lib.Technologies["B"] = &rule.TechRule{
		Name:    "B",
		Implies: []rule.ImplyRef{{Tech: "C", Confidence: 100}},
	}
	lib.Technologies["C"] = &rule.TechRule{Name: "C"}
	d := New(lib)

	headers := map[string][]string{"Server": {"techa/1.0"}}

	lite, err := d.DetectLite(headers, nil, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(lite))
	for _, tech := range lite {
		names = append(names, tech.Name)
	}
	// 直接命中 + 一级推导；不展开二级推导
	assert.ElementsMatch(t, []string{"A", "B"}, names)

	full, err := d.Detect(headers, nil, nil)
	require.NoError(t, err)
	assert.Len(t, full, 3)
}

func TestGlobalNotInitialized(t *testing.T) {
	_, err := DetectFull(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = DetectLite(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGlobalInitAndDetect(t *testing.T) {
	InitWithLibrary(webLibrary())

	techs, err := DetectFull(map[string][]string{"Server": {"nginx/1.18.0"}}, []string{"https://x"}, nil)
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "nginx", techs[0].Name)
}

func indexByName(techs []rule.Technology) map[string]*rule.Technology {
	byName := make(map[string]*rule.Technology, len(techs))
	for i := range techs {
		byName[techs[i].Name] = &techs[i]
	}
	return byName
}
