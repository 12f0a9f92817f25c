package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 估算消息的 Token 数，用于在发送前校验 Token 预算。
// Qwen/DeepSeek 均兼容 cl100k_base 的近似计数，偏差对预算校验可接受。
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

const defaultEncoding = "cl100k_base"

// NewTokenCounter 创建 Token 计数器（编码表懒加载）。
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) init() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			c.initErr = fmt.Errorf("load tiktoken encoding: %w", err)
			return
		}
		c.encoding = enc
	})
}

// CountText 返回单段文本的 Token 数。
func (c *TokenCounter) CountText(text string) (int, error) {
	c.init()
	if c.initErr != nil {
		return 0, c.initErr
	}
	return len(c.encoding.Encode(text, nil, nil)), nil
}

// CountMessages 返回一组消息的总 Token 数。
// 每条消息额外计入 4 个 Token 的角色/分隔开销（OpenAI 兼容格式的经验值）。
func (c *TokenCounter) CountMessages(messages []Message) (int, error) {
	c.init()
	if c.initErr != nil {
		return 0, c.initErr
	}

	const perMessageOverhead = 4
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += len(c.encoding.Encode(m.Content, nil, nil))
		if m.Name != "" {
			total += len(c.encoding.Encode(m.Name, nil, nil))
		}
	}
	return total, nil
}

// CheckBudget 校验请求是否超出 Token 预算，budget<=0 表示不限制。
func (c *TokenCounter) CheckBudget(req *ChatRequest, budget int) error {
	if budget <= 0 {
		return nil
	}
	count, err := c.CountMessages(req.Messages)
	if err != nil {
		return err
	}
	if count > budget {
		return &Error{
			Code:    ErrTokenBudget,
			Message: fmt.Sprintf("prompt tokens %d exceed budget %d", count, budget),
		}
	}
	return nil
}
