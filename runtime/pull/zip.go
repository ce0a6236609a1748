package pull

import (
	"context"

	"goa.design/flow/runtime/obj"
)

// ZipRow is one row yielded by Zip: positional values from every
// still-active source, paired with the index of the source each value came
// from (omitting exhausted slots rather than padding them).
type ZipRow[T any] struct {
	Values  []T
	Sources []int
}

// LabeledZipRow is the labeled variant of ZipRow.
type LabeledZipRow[T any] struct {
	Values []obj.LabeledValue[T]
}

// Zip yields positional tuples from its sources, continuing while any source
// is still active; exhausted slots are omitted from each row rather than
// padded.
type Zip[T any] struct {
	combinatorBase[T]
	exhausted []bool
}

// NewZip constructs a Zip combinator over sources.
func NewZip[T any](sources ...obj.Source[T]) *Zip[T] {
	return &Zip[T]{
		combinatorBase: newCombinatorBase("pull.zip", keyedFromSources(sources)),
		exhausted:      make([]bool, len(sources)),
	}
}

// NewLabeledZip is the labeled variant.
func NewLabeledZip[T any](entries []KeyedSource[T]) *LabeledZip[T] {
	return &LabeledZip[T]{
		combinatorBase: newCombinatorBase("pull.labeled_zip", entries),
		exhausted:      make([]bool, len(entries)),
	}
}

// Next pulls one value from every still-active source and assembles a row;
// completes once every source is exhausted.
func (z *Zip[T]) Next(ctx context.Context) (obj.IteratorResult[ZipRow[T]], error) {
	if z.life.Done() {
		return obj.Finished[ZipRow[T]](), nil
	}
	var row ZipRow[T]
	for i, s := range z.sources {
		if z.exhausted[i] {
			continue
		}
		res, err := s.Next(ctx)
		if err != nil {
			return obj.IteratorResult[ZipRow[T]]{}, err
		}
		if res.Done {
			z.exhausted[i] = true
			continue
		}
		row.Values = append(row.Values, res.Value)
		row.Sources = append(row.Sources, i)
	}
	if len(row.Values) == 0 {
		z.life.Close(false)
		return obj.Finished[ZipRow[T]](), nil
	}
	return obj.Yield(row), nil
}

// Return closes every held source.
func (z *Zip[T]) Return(ctx context.Context) (obj.IteratorResult[ZipRow[T]], error) {
	return obj.Finished[ZipRow[T]](), z.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (z *Zip[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[ZipRow[T]], error) {
	return obj.Finished[ZipRow[T]](), z.closeAll(ctx, true, err)
}

// LabeledZip is the labeled variant of Zip.
type LabeledZip[T any] struct {
	combinatorBase[T]
	exhausted []bool
}

// Next pulls one value from every still-active source, tagging each with its
// key, and assembles a row.
func (z *LabeledZip[T]) Next(ctx context.Context) (obj.IteratorResult[LabeledZipRow[T]], error) {
	if z.life.Done() {
		return obj.Finished[LabeledZipRow[T]](), nil
	}
	var row LabeledZipRow[T]
	for i, s := range z.sources {
		if z.exhausted[i] {
			continue
		}
		res, err := s.Next(ctx)
		if err != nil {
			return obj.IteratorResult[LabeledZipRow[T]]{}, err
		}
		if res.Done {
			z.exhausted[i] = true
			continue
		}
		row.Values = append(row.Values, obj.LabeledValue[T]{Key: z.keys[i], Value: res.Value})
	}
	if len(row.Values) == 0 {
		z.life.Close(false)
		return obj.Finished[LabeledZipRow[T]](), nil
	}
	return obj.Yield(row), nil
}

// Return closes every held source.
func (z *LabeledZip[T]) Return(ctx context.Context) (obj.IteratorResult[LabeledZipRow[T]], error) {
	return obj.Finished[LabeledZipRow[T]](), z.closeAll(ctx, false, nil)
}

// Throw closes every held source.
func (z *LabeledZip[T]) Throw(ctx context.Context, err error) (obj.IteratorResult[LabeledZipRow[T]], error) {
	return obj.Finished[LabeledZipRow[T]](), z.closeAll(ctx, true, err)
}
