// Package datekey 将日历日期规范化为与时区无关的 YYYY-MM-DD 字符串，
// 作为全系统中"哪一天"的唯一标识。
package datekey

import (
	"errors"
	"time"
)

// Layout DateKey 的格式
const Layout = "2006-01-02"

// ErrInvalidKey 非规范格式的日期字符串
var ErrInvalidKey = errors.New("日期格式无效，应为 YYYY-MM-DD")

// Key 规范化后的日期标识
type Key string

// FromTime 取 t 所在时区的本地年月日，再以 UTC 零点重建后格式化。
// 同一本地日历日内的任意时刻（无论偏移量、夏令时）都得到相同的 Key。
// 零值 time.Time 属于调用方编程错误，直接 panic。
func FromTime(t time.Time) Key {
	if t.IsZero() {
		panic("datekey: zero time")
	}
	y, m, d := t.Date()
	return Key(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(Layout))
}

// FromTimeIn 先将 t 转换到 loc，再按 loc 的本地日取 Key
func FromTimeIn(t time.Time, loc *time.Location) Key {
	if loc == nil {
		loc = time.UTC
	}
	return FromTime(t.In(loc))
}

// Parse 解析规范格式的 DateKey；"2024-3-1" 之类的非规范写法一律拒绝
func Parse(s string) (Key, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return "", ErrInvalidKey
	}
	if t.Format(Layout) != s {
		return "", ErrInvalidKey
	}
	return Key(s), nil
}

// Equal 比较两个 Key；判断"是否同一天"只能用它，不要比较 time.Time
func Equal(a, b Key) bool {
	return a == b
}

// Time 返回 Key 对应的 UTC 零点
func (k Key) Time() time.Time {
	t, err := time.Parse(Layout, string(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (k Key) String() string { return string(k) }

// Valid 是否为规范格式
func (k Key) Valid() bool {
	_, err := Parse(string(k))
	return err == nil
}
