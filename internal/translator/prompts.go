package translator

import (
	"fmt"
	"strings"
)

// basePrinciples are the three stylistic directives every translation
// prompt carries, transcribed verbatim from the original system's
// PromptBuilder.get_base_principles.
const basePrinciples = `【遗忘之律】忘记英文的句法。忘记英文的语序。只记住它要说的事。
【重生之律】如果你是中国作者，面对中国读者，你会怎么讲这个故事？
【地道之律】追求地道的表达，而非字面翻译。中文有自己的韵律和节奏感。`

func buildSimplePrompt(text string) string {
	return fmt.Sprintf(`你是专业的中文母语翻译者。

## 翻译原则
%s

## 翻译规则
1. 只输出翻译内容，不要添加任何解释或额外说明
2. 确保翻译流畅自然，符合中文表达习惯
3. 如果是口语化内容，保持口语化风格

---

【原文】
%s

请直接输出中文翻译，不要添加任何标记或解释。`, basePrinciples, text)
}

func buildReflectionPrompt(text, initialTranslation string) string {
	return fmt.Sprintf(`你是专业的中文母语翻译者，需要优化以下翻译。

## 优化原则
【地道之律】追求地道的表达，而非字面翻译。中文有自己的韵律和节奏感。
【重生之律】如果你是中国作者，面对中国读者，你会怎么讲这个故事？
【检验标准】让读者感觉"写得真好"，而非"翻译得真好"。

---

【原文】
%s

【初步翻译】
%s

请评估翻译质量，如果发现可以改进的地方（如：不够地道、有翻译腔、不符合中文表达习惯），请直接输出优化后的翻译。如果翻译已经很好，请直接输出原译文。

只输出最终的中文翻译，不要添加任何评价、解释或标记。`, text, initialTranslation)
}

func buildSummaryPrompt(fullText string) string {
	return fmt.Sprintf(`请阅读以下英文文章，并提供一个简洁的总结（150字以内），包括：
1. 文章主题和核心内容
2. 关键人物、地点、事件
3. 重要的专有名词和术语（保留英文原词）

请用中文输出总结，简明扼要即可。

---

【完整原文】
%s

---

请直接输出总结：`, fullText)
}

func buildSlidingWindowPrompt(text, summary, contextBefore, contextAfter string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `你是专业的中文母语翻译者。

## 翻译原则
%s

## 文章背景
%s

## 翻译任务
请翻译【当前文本】，结合文章背景和上下文，确保：
1. 只输出【当前文本】的中文翻译
2. 术语翻译与全文保持一致
3. 准确理解代词和指代关系
4. 保持口语化风格（如果是对话）
5. 不要添加任何标记或解释

---
`, basePrinciples, summary)

	if contextBefore != "" {
		fmt.Fprintf(&b, "\n【前文参考】（不要翻译）\n%s\n", contextBefore)
	}
	fmt.Fprintf(&b, "\n【当前文本】（只翻译这部分）\n%s\n", text)
	if contextAfter != "" {
		fmt.Fprintf(&b, "\n【后文参考】（不要翻译）\n%s\n", contextAfter)
	}
	b.WriteString("\n---\n\n请直接输出【当前文本】的中文翻译：")
	return b.String()
}

func buildContextPrompt(text, contextBefore, contextAfter string) string {
	if contextBefore == "" && contextAfter == "" {
		return buildSimplePrompt(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `你是专业的中文母语翻译者。

## 翻译原则
%s
【真实之锚】数据一字不改，事实纹丝不动，逻辑完整移植，术语规范标注。

## 翻译规则
1. 只输出翻译内容，不要添加任何解释或额外说明
2. 结合上下文理解代词、指代关系
3. 保持术语翻译的一致性
4. 确保翻译流畅自然，符合中文表达习惯
5. 如果是口语化内容，保持口语化风格
6. 让读者感觉"写得真好"，而非"翻译得真好"

---

`, basePrinciples)

	if contextBefore != "" {
		fmt.Fprintf(&b, "【前文】%s\n\n", contextBefore)
	}
	fmt.Fprintf(&b, "【当前文本】%s\n\n", text)
	if contextAfter != "" {
		fmt.Fprintf(&b, "【后文】%s\n\n", contextAfter)
	}
	b.WriteString("请直接输出【当前文本】的中文翻译，不要翻译上下文部分，不要添加任何标记或解释。")
	return b.String()
}
