package domain

import (
	"fmt"
	"strings"
)

// Address 是邮政地址值对象
type Address struct {
	Name   string `json:"name"`
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"` // 两位州代码
	Zip    string `json:"zip"`   // 5 位数字
}

// Normalize 去掉首尾空白并把州代码转成大写。
func (a Address) Normalize() Address {
	return Address{
		Name:   strings.TrimSpace(a.Name),
		Street: strings.TrimSpace(a.Street),
		City:   strings.TrimSpace(a.City),
		State:  strings.ToUpper(strings.TrimSpace(a.State)),
		Zip:    strings.TrimSpace(a.Zip),
	}
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Block 返回用于信纸排版的多行地址块。
func (a Address) Block() string {
	lines := make([]string, 0, 3)
	if a.Name != "" {
		lines = append(lines, a.Name)
	}
	lines = append(lines, a.Street, fmt.Sprintf("%s, %s %s", a.City, a.State, a.Zip))
	return strings.Join(lines, "\n")
}
