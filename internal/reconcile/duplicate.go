package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"workday-reconcile/backend/internal/model"
)

// Candidate 参与重复检测的条目
type Candidate struct {
	ID             string
	DocumentNumber string // 可为空
	Amount         decimal.Decimal
	Date           time.Time
	Scope          string // 金额+日期键的归属，通常为工人 DNI；为空时不区分工人
}

// DuplicateResult 重复检测结果，ID 均已排序
type DuplicateResult struct {
	Flagged  []string   // 属于某个大小 ≥2 的簇的全部 ID
	Clusters [][]string // 共享成员的簇已合并
}

// IsFlagged 判断 ID 是否被标记为重复
func (r DuplicateResult) IsFlagged(id string) bool {
	i := sort.SearchStrings(r.Flagged, id)
	return i < len(r.Flagged) && r.Flagged[i] == id
}

// documentKey 单号归一化：去空白、大小写折叠
func documentKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// amountDateKey 归属 + 金额 + 日历日
func amountDateKey(c Candidate) string {
	y, m, d := c.Date.Date()
	return strings.ToLower(strings.TrimSpace(c.Scope)) + "|" + c.Amount.String() + "|" +
		time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// DetectDuplicates 两个独立键分别分组，任一分组中出现 ≥2 个成员即标记；
// 结果取并集，再把共享成员的簇合并。纯函数，不修改输入，与输入顺序无关。
// 缺少 ID 的候选被忽略，缺少日期的候选不参与金额+日期分组。
func DetectDuplicates(cands []Candidate) DuplicateResult {
	index := make(map[string]int, len(cands))
	var ids []string
	for _, c := range cands {
		if c.ID == "" {
			continue
		}
		if _, ok := index[c.ID]; !ok {
			index[c.ID] = len(ids)
			ids = append(ids, c.ID)
		}
	}

	byDoc := make(map[string][]int)
	byAmountDate := make(map[string][]int)
	for _, c := range cands {
		i, ok := index[c.ID]
		if !ok {
			continue
		}
		if k := documentKey(c.DocumentNumber); k != "" {
			byDoc[k] = appendUnique(byDoc[k], i)
		}
		if !c.Date.IsZero() {
			k := amountDateKey(c)
			byAmountDate[k] = appendUnique(byAmountDate[k], i)
		}
	}

	uf := newUnionFind(len(ids))
	flagged := make([]bool, len(ids))
	for _, groups := range []map[string][]int{byDoc, byAmountDate} {
		for _, members := range groups {
			if len(members) < 2 {
				continue
			}
			for _, m := range members {
				flagged[m] = true
				uf.union(members[0], m)
			}
		}
	}

	var res DuplicateResult
	clusters := make(map[int][]string)
	for i, id := range ids {
		if !flagged[i] {
			continue
		}
		res.Flagged = append(res.Flagged, id)
		root := uf.find(i)
		clusters[root] = append(clusters[root], id)
	}
	sort.Strings(res.Flagged)
	for _, members := range clusters {
		sort.Strings(members)
		res.Clusters = append(res.Clusters, members)
	}
	sort.Slice(res.Clusters, func(a, b int) bool {
		return res.Clusters[a][0] < res.Clusters[b][0]
	})
	return res
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// 以较小下标为根，保证结果与分组遍历顺序无关
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// CandidateFromItem 由待入库条目构造检测候选。
// 日报与工时表的金额为工时合计，请假为天数；金额+日期只在同一工人内比较。
func CandidateFromItem(item *model.IngestionItem) Candidate {
	f := item.DetectedFields
	c := Candidate{ID: item.ItemID, DocumentNumber: f.DocumentNumber, Scope: f.DNI}
	if c.Scope == "" {
		c.Scope = f.WorkerID
	}
	switch item.Kind {
	case model.KindLicencia:
		if f.LicenseStart != nil {
			c.Date = *f.LicenseStart
			if f.LicenseEnd != nil && !f.LicenseEnd.Before(*f.LicenseStart) {
				c.Amount = decimal.NewFromInt(int64(DaysInRange(*f.LicenseStart, *f.LicenseEnd)))
			}
		}
	default:
		if f.Date != nil {
			c.Date = *f.Date
		}
		c.Amount = Total(HoursFromRaw(f.Hours))
	}
	return c
}

// DaysInRange 闭区间内的日历天数
func DaysInRange(start, end time.Time) int {
	s := truncateDay(start)
	e := truncateDay(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
