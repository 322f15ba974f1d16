package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Condition 单个条件谓词，模板/规则内为 AND 关系
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

var supportedOperators = map[string]bool{
	"equals":       true,
	"not_equals":   true,
	"contains":     true,
	"not_contains": true,
	"greater_than": true,
	"less_than":    true,
	"in":           true,
	"not_in":       true,
}

// ParseConditions 解析 JSON 文本形式的条件列表，空串视为空列表
func ParseConditions(text string) ([]Condition, error) {
	if text == "" {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal([]byte(text), &conds); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	return conds, nil
}

// ValidateConditions 在模板/规则创建时校验条件，
// 让未知操作符在落库前就被拒绝而不是运行期兜底
func ValidateConditions(conds []Condition) error {
	for i, cond := range conds {
		if cond.Field == "" {
			return fmt.Errorf("condition %d: field required", i)
		}
		if !supportedOperators[cond.Operator] {
			return fmt.Errorf("condition %d: unsupported operator %q", i, cond.Operator)
		}
		if cond.Operator == "in" || cond.Operator == "not_in" {
			if _, ok := toSlice(cond.Value); !ok {
				return fmt.Errorf("condition %d: operator %q requires an array value", i, cond.Operator)
			}
		}
	}
	return nil
}

// EvaluateConditions 判断所有条件是否对快照成立，空列表恒真。
// 无副作用；未知操作符按失败处理并记录告警。
func EvaluateConditions(logger *logrus.Logger, conds []Condition, data map[string]interface{}) bool {
	for _, cond := range conds {
		if !evaluateCondition(logger, cond, data) {
			return false
		}
	}
	return true
}

func evaluateCondition(logger *logrus.Logger, cond Condition, data map[string]interface{}) bool {
	actual, _ := LookupField(data, cond.Field)

	switch cond.Operator {
	case "equals":
		return valueEquals(actual, cond.Value)
	case "not_equals":
		return !valueEquals(actual, cond.Value)
	case "contains":
		return strings.Contains(strings.ToLower(coerceString(actual)), strings.ToLower(coerceString(cond.Value)))
	case "not_contains":
		return !strings.Contains(strings.ToLower(coerceString(actual)), strings.ToLower(coerceString(cond.Value)))
	case "greater_than":
		a, aok := toFloat64(actual)
		b, bok := toFloat64(cond.Value)
		return aok && bok && a > b
	case "less_than":
		a, aok := toFloat64(actual)
		b, bok := toFloat64(cond.Value)
		return aok && bok && a < b
	case "in":
		members, ok := toSlice(cond.Value)
		if !ok {
			if logger != nil {
				logger.Warnf("condition: operator 'in' on field %s requires an array value", cond.Field)
			}
			return false
		}
		return sliceContains(members, actual)
	case "not_in":
		members, ok := toSlice(cond.Value)
		if !ok {
			if logger != nil {
				logger.Warnf("condition: operator 'not_in' on field %s requires an array value", cond.Field)
			}
			return false
		}
		return !sliceContains(members, actual)
	default:
		if logger != nil {
			logger.Warnf("condition: unknown operator %q on field %s, evaluating false", cond.Operator, cond.Field)
		}
		return false
	}
}

// LookupField 沿点分路径深入嵌套 map，缺失的分段返回 (nil, false)
func LookupField(data map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = data
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valueEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	// JSON 解码后的数字统一为 float64，这里兼容 int/uint 快照值
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func coerceString(v interface{}) string {
	if v == nil {
		return "undefined"
	}
	return fmt.Sprintf("%v", v)
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

func sliceContains(members []interface{}, v interface{}) bool {
	for _, m := range members {
		if valueEquals(m, v) {
			return true
		}
	}
	return false
}
