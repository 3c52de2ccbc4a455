package textgen

import (
	"fmt"
	"math/rand"
	"strings"
)

var (
	zhSubjects = []string{"登录页面", "报表导出", "用户权限", "邮件通知", "搜索功能", "数据同步", "支付接口", "移动端首页"}
	zhProblems = []string{"响应缓慢", "偶发报错", "显示异常", "数据不一致", "无法保存", "超时失败"}
	zhPhrases  = []string{
		"已在测试环境复现", "影响部分用户", "需要进一步排查日志", "怀疑与最近的发布有关",
		"已通知相关负责人", "临时方案已生效", "等待回归测试", "请优先处理",
	}
	zhNames = []string{"张伟", "王芳", "李娜", "刘洋", "陈静", "杨磊"}
)

// chineseText writes generic Chinese tracker text.
type chineseText struct {
	rng *rand.Rand
}

func (g *chineseText) Summary() string {
	return fmt.Sprintf("%s%s（编号%d）", pick(g.rng, zhSubjects), pick(g.rng, zhProblems), between(g.rng, 100, 9999))
}

func (g *chineseText) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "问题描述：%s%s。\n", pick(g.rng, zhSubjects), pick(g.rng, zhProblems))
	fmt.Fprintf(&b, "复现步骤：%s。\n", g.sentence())
	fmt.Fprintf(&b, "影响范围：%s。", pick(g.rng, zhPhrases))
	return b.String()
}

func (g *chineseText) Comment() string {
	return fmt.Sprintf("[%s] %s", pick(g.rng, zhNames), g.sentence())
}

func (g *chineseText) sentence() string {
	n := between(g.rng, 2, 3)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = pick(g.rng, zhPhrases)
	}
	return strings.Join(parts, "，")
}
