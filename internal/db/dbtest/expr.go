package dbtest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	andPattern         = regexp.MustCompile(`\s+AND\s+`)
	existsPattern      = regexp.MustCompile(`^attribute_exists\s*\(\s*(#\w+)$`)
	notExistsPattern   = regexp.MustCompile(`^attribute_not_exists\s*\(\s*(#\w+)$`)
	comparePattern     = regexp.MustCompile(`^(#\w+)\s*(<>|<=|>=|=|<|>)\s*(:\w+)$`)
	clausePattern      = regexp.MustCompile(`(?m)^\s*(SET|ADD|REMOVE|DELETE)\s+`)
	assignPattern      = regexp.MustCompile(`^(#\w+)\s*=\s*(.+)$`)
	ifNotExistsPattern = regexp.MustCompile(`^if_not_exists\s*\(\s*(#\w+)\s*,\s*(:\w+)\s*\)$`)
	arithmeticPattern  = regexp.MustCompile(`^(#\w+)\s*([+-])\s*(:\w+)$`)
	addPattern         = regexp.MustCompile(`^(#\w+)\s+(:\w+)$`)
)

// evalCondition reports whether item satisfies a condition expression made of
// AND-joined comparisons and attribute_exists/attribute_not_exists checks. A
// nil item is treated as absent.
func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, term := range andPattern.Split(expr, -1) {
		// Grouping parentheses are dropped; function calls keep only their opening one.
		term = strings.TrimSpace(strings.TrimRight(strings.TrimLeft(term, "( "), ") "))
		ok, err := evalTerm(term, item, names, values)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalTerm(term string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if m := existsPattern.FindStringSubmatch(term); m != nil {
		_, ok := item[names[m[1]]]
		return ok, nil
	}
	if m := notExistsPattern.FindStringSubmatch(term); m != nil {
		_, ok := item[names[m[1]]]
		return !ok, nil
	}
	m := comparePattern.FindStringSubmatch(term)
	if m == nil {
		return false, fmt.Errorf("dbtest: unsupported condition %q", term)
	}
	stored, ok := item[names[m[1]]]
	if !ok {
		return false, nil
	}
	cmp, ok := compare(stored, values[m[3]])
	if !ok {
		return false, nil
	}
	switch m[2] {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

// compare orders two scalar values of the same type
func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

// applyUpdate applies SET, ADD and REMOVE clauses to item in place.
func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	locs := clausePattern.FindAllStringSubmatchIndex(expr, -1)
	for i, loc := range locs {
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		verb := expr[loc[2]:loc[3]]
		for _, action := range splitTopLevel(expr[loc[1]:end]) {
			if err := applyAction(verb, action, item, names, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyAction(verb, action string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	switch verb {
	case "REMOVE":
		delete(item, names[action])
		return nil
	case "ADD":
		m := addPattern.FindStringSubmatch(action)
		if m == nil {
			return fmt.Errorf("dbtest: unsupported ADD %q", action)
		}
		return addNumber(item, names[m[1]], item[names[m[1]]], values[m[2]], 1)
	case "SET":
		m := assignPattern.FindStringSubmatch(action)
		if m == nil {
			return fmt.Errorf("dbtest: unsupported SET %q", action)
		}
		target, operand := names[m[1]], strings.TrimSpace(m[2])
		if v, ok := values[operand]; ok {
			item[target] = v
			return nil
		}
		if n := ifNotExistsPattern.FindStringSubmatch(operand); n != nil {
			if existing, ok := item[names[n[1]]]; ok {
				item[target] = existing
			} else {
				item[target] = values[n[2]]
			}
			return nil
		}
		if n := arithmeticPattern.FindStringSubmatch(operand); n != nil {
			sign := 1.0
			if n[2] == "-" {
				sign = -1
			}
			return addNumber(item, target, item[names[n[1]]], values[n[3]], sign)
		}
		return fmt.Errorf("dbtest: unsupported SET %q", action)
	}
	return fmt.Errorf("dbtest: unsupported clause %s", verb)
}

// addNumber stores base + sign*delta under name; a missing base counts as zero
func addNumber(item map[string]types.AttributeValue, name string, base, delta types.AttributeValue, sign float64) error {
	var x float64
	if n, ok := base.(*types.AttributeValueMemberN); ok {
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return err
		}
		x = v
	}
	d, ok := delta.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("dbtest: %s is not numeric", name)
	}
	y, err := strconv.ParseFloat(d.Value, 64)
	if err != nil {
		return err
	}
	item[name] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+sign*y, 'f', -1, 64)}
	return nil
}

// splitTopLevel splits a clause body on commas outside parentheses
func splitTopLevel(body string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(body[start:]); last != "" {
		out = append(out, last)
	}
	return out
}
