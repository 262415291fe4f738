package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/mapping"
)

// GenerationPolicy controls generation checks on write.
type GenerationPolicy int

const (
	// GenerationNone writes regardless of the stored generation.
	GenerationNone GenerationPolicy = iota

	// GenerationExpectEqual writes only when the stored generation equals WritePolicy.Generation.
	// A zero generation expects no live record.
	GenerationExpectEqual
)

// ExistsAction controls how a write treats an existing record.
type ExistsAction int

const (
	// Replace creates or overwrites the record.
	Replace ExistsAction = iota

	// CreateOnly fails when a live record exists.
	CreateOnly

	// ReplaceOnly fails when no live record exists.
	ReplaceOnly
)

func (a ExistsAction) String() string {
	switch a {
	case CreateOnly:
		return "CREATE_ONLY"
	case ReplaceOnly:
		return "REPLACE_ONLY"
	default:
		return "REPLACE"
	}
}

// Special expiration values, in seconds.
const (
	// ExpirationDefault defers to the document or Config.DefaultExpiration.
	ExpirationDefault int32 = 0

	// ExpirationNever removes any expiry from the record.
	ExpirationNever int32 = -1

	// ExpirationUnchanged leaves the record's expiry as it is.
	ExpirationUnchanged int32 = -2
)

// WritePolicy is the per-write condition and expiry bundle.
type WritePolicy struct {
	GenerationPolicy GenerationPolicy
	Generation       int64
	ExistsAction     ExistsAction

	// Expiration is the record lifetime in seconds, or one of the Expiration constants.
	Expiration int32
}

func (p WritePolicy) String() string {
	if p.GenerationPolicy == GenerationExpectEqual {
		return fmt.Sprintf("%s gen=%d exp=%d", p.ExistsAction, p.Generation, p.Expiration)
	}
	return fmt.Sprintf("%s exp=%d", p.ExistsAction, p.Expiration)
}

// expectGenerationCasAwareSavePolicy creates new documents (version 0) and
// replaces existing ones only at their stored generation.
func expectGenerationCasAwareSavePolicy(data *mapping.WriteData) WritePolicy {
	action := ReplaceOnly
	if data.Version == 0 {
		action = CreateOnly
	}
	return expectGenerationSavePolicy(data, action)
}

func expectGenerationSavePolicy(data *mapping.WriteData, action ExistsAction) WritePolicy {
	return WritePolicy{
		GenerationPolicy: GenerationExpectEqual,
		Generation:       data.Version,
		ExistsAction:     action,
		Expiration:       data.Expiration,
	}
}

func ignoreGenerationSavePolicy(data *mapping.WriteData, action ExistsAction) WritePolicy {
	return WritePolicy{
		GenerationPolicy: GenerationNone,
		ExistsAction:     action,
		Expiration:       data.Expiration,
	}
}

func ignoreGenerationDeletePolicy() WritePolicy {
	return WritePolicy{GenerationPolicy: GenerationNone, ExistsAction: Replace}
}

// Managed attribute placeholders in write expressions.
const (
	keyName = "#pk"
	genName = "#gen"
	ttlName = "#ttl"
)

// Condition fragments over the managed attributes. :now is the current epoch second.
const (
	liveCondition   = "(attribute_not_exists(#ttl) OR #ttl > :now)"
	absentCondition = "(attribute_not_exists(#pk) OR #ttl <= :now)"
	existsCondition = "attribute_exists(#pk) AND " + liveCondition
)

// writeExpr accumulates an UpdateItem expression with its placeholders.
type writeExpr struct {
	names  map[string]string
	values map[string]types.AttributeValue
	set    []string
	remove []string
	add    []string
	cond   []string
	n      int
}

func (c Config) newWriteExpr(now int64) *writeExpr {
	return &writeExpr{
		names: map[string]string{
			keyName: c.KeyAttribute,
			genName: c.GenerationAttribute,
			ttlName: c.ExpirationAttribute,
		},
		values: map[string]types.AttributeValue{
			":now":  number(now),
			":one":  number(1),
			":zero": number(0),
		},
	}
}

// bin registers a user attribute and its value, returning both placeholders.
func (w *writeExpr) bin(name string, v types.AttributeValue) (string, string) {
	nameKey := fmt.Sprintf("#b%d", w.n)
	w.names[nameKey] = name
	valueKey := ""
	if v != nil {
		valueKey = fmt.Sprintf(":b%d", w.n)
		w.values[valueKey] = v
	}
	w.n++
	return nameKey, valueKey
}

// setBins overwrites each bin and removes the mapped bins missing from bins.
func (w *writeExpr) setBins(bins map[string]types.AttributeValue, remove []string) {
	for _, name := range sortedKeys(bins) {
		n, v := w.bin(name, bins[name])
		w.set = append(w.set, n+" = "+v)
	}
	for _, name := range remove {
		if _, ok := bins[name]; ok {
			continue
		}
		n, _ := w.bin(name, nil)
		w.remove = append(w.remove, n)
	}
}

// policy adds the condition, generation and expiry updates for p.
func (w *writeExpr) policy(p WritePolicy, fallback int32, now int64) {
	createOnly := p.ExistsAction == CreateOnly
	switch p.ExistsAction {
	case CreateOnly:
		w.cond = append(w.cond, absentCondition)
	case ReplaceOnly:
		w.cond = append(w.cond, existsCondition)
	}

	if p.GenerationPolicy == GenerationExpectEqual {
		switch {
		case p.Generation > 0:
			w.values[":expected_gen"] = number(p.Generation)
			w.cond = append(w.cond, "#gen = :expected_gen")
			if p.ExistsAction != ReplaceOnly {
				w.cond = append(w.cond, liveCondition)
			}
		case !createOnly:
			w.cond = append(w.cond, absentCondition)
		}
	}

	if createOnly || (p.GenerationPolicy == GenerationExpectEqual && p.Generation == 0) {
		w.set = append(w.set, "#gen = :one")
	} else {
		w.set = append(w.set, "#gen = if_not_exists(#gen, :zero) + :one")
	}

	if at, ok := expiry(p.Expiration, fallback, now); ok {
		if at > 0 {
			w.values[":ttl"] = number(at)
			w.set = append(w.set, "#ttl = :ttl")
		} else {
			w.remove = append(w.remove, ttlName)
		}
	}
}

func (w *writeExpr) update() string {
	var parts []string
	if len(w.set) > 0 {
		parts = append(parts, "SET "+strings.Join(w.set, ", "))
	}
	if len(w.remove) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(w.remove, ", "))
	}
	if len(w.add) > 0 {
		parts = append(parts, "ADD "+strings.Join(w.add, ", "))
	}
	return strings.Join(parts, " ")
}

func (w *writeExpr) condition() *string {
	if len(w.cond) == 0 {
		return nil
	}
	return aws.String(strings.Join(w.cond, " AND "))
}

// input assembles the UpdateItem request. Placeholders the expressions never
// reference are dropped since DynamoDB rejects unused ones.
func (w *writeExpr) input(table string, key map[string]types.AttributeValue) *dynamodb.UpdateItemInput {
	update := w.update()
	cond := w.condition()
	text := update
	if cond != nil {
		text += " " + *cond
	}

	names := make(map[string]string, len(w.names))
	for k, v := range w.names {
		if containsPlaceholder(text, k) {
			names[k] = v
		}
	}
	values := make(map[string]types.AttributeValue, len(w.values))
	for k, v := range w.values {
		if containsPlaceholder(text, k) {
			values[k] = v
		}
	}

	in := &dynamodb.UpdateItemInput{
		TableName:                           aws.String(table),
		Key:                                 key,
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 cond,
		ExpressionAttributeNames:            names,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if len(values) > 0 {
		in.ExpressionAttributeValues = values
	}
	return in
}

// containsPlaceholder reports whether p occurs in text as a whole token.
func containsPlaceholder(text, p string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], p)
		if j < 0 {
			return false
		}
		end := i + j + len(p)
		if end == len(text) || !isPlaceholderChar(text[end]) {
			return true
		}
		i = end
	}
}

func isPlaceholderChar(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// expiry resolves a policy expiration against the template default. It
// returns the absolute expiry, or zero to clear it, and false when the expiry
// must be left unchanged.
func expiry(exp int32, fallback int32, now int64) (int64, bool) {
	if exp == ExpirationUnchanged {
		return 0, false
	}
	if exp == ExpirationDefault {
		exp = fallback
	}
	if exp <= 0 {
		return 0, true
	}
	return now + int64(exp), true
}
