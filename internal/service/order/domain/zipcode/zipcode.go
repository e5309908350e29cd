// Package zipcode 提供只读的 ZIP -> 州 参考数据集（按三位前缀划分）。
package zipcode

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prefixes.yaml
var prefixData []byte

type prefixRange struct {
	From  int    `yaml:"from"`
	To    int    `yaml:"to"`
	State string `yaml:"state"`
}

// Directory 是加载后的前缀表，按 From 升序排列。
type Directory struct {
	ranges []prefixRange
}

var loadDefault = sync.OnceValues(func() (*Directory, error) {
	return Parse(prefixData)
})

// Default 返回内置数据集。数据集随二进制发布，解析失败属于编程错误。
func Default() *Directory {
	d, err := loadDefault()
	if err != nil {
		panic(err)
	}
	return d
}

// Parse 解析 YAML 格式的前缀表。
func Parse(data []byte) (*Directory, error) {
	var ranges []prefixRange
	if err := yaml.Unmarshal(data, &ranges); err != nil {
		return nil, fmt.Errorf("zipcode: parse prefixes: %w", err)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].From < ranges[j].From })
	for i, r := range ranges {
		if r.From > r.To || r.From < 0 || r.To > 999 || r.State == "" {
			return nil, fmt.Errorf("zipcode: bad range %d-%d %q", r.From, r.To, r.State)
		}
		if i > 0 && ranges[i-1].To >= r.From {
			return nil, fmt.Errorf("zipcode: range %d-%d overlaps %d-%d", r.From, r.To, ranges[i-1].From, ranges[i-1].To)
		}
	}
	return &Directory{ranges: ranges}, nil
}

// StateOf 返回 5 位 ZIP 所属的州代码。ZIP 格式不对或前缀未分配时 ok 为 false。
func (d *Directory) StateOf(zip string) (string, bool) {
	if len(zip) != 5 {
		return "", false
	}
	prefix := 0
	for i := 0; i < 5; i++ {
		c := zip[i]
		if c < '0' || c > '9' {
			return "", false
		}
		if i < 3 {
			prefix = prefix*10 + int(c-'0')
		}
	}

	i := sort.Search(len(d.ranges), func(i int) bool { return d.ranges[i].To >= prefix })
	if i < len(d.ranges) && d.ranges[i].From <= prefix {
		return d.ranges[i].State, true
	}
	return "", false
}
