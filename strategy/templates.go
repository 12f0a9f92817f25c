package strategy

import (
	"bytes"
	"fmt"
	"text/template"
)

// 内置文案模板，键为模板名。
// hot_topic_prompt 供策略生成拼接热点上下文，reply_thanks 是
// AI 回复失败时的兜底话术。
var builtinTemplates = map[string]string{
	"reply_thanks": "谢谢{{.Author}}的支持！{{if .Extra}}{{.Extra}}{{end}}",
	"hot_topic_prompt": "当前平台热点话题：{{range $i, $t := .Topics}}{{if $i}}、{{end}}{{$t}}{{end}}。" +
		"请优先结合以上热点规划选题。",
}

// RenderTemplate 渲染内置模板。
func (m *Manager) RenderTemplate(name string, data any) (string, error) {
	text, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// TemplateNames 返回全部内置模板名。
func (m *Manager) TemplateNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	return names
}
