package coherence

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SharerSet", func() {
	It("should work from the zero value", func() {
		var s SharerSet

		Expect(s.Empty()).To(BeTrue())
		Expect(s.First()).To(Equal(-1))
		Expect(s.Has(3)).To(BeFalse())

		s.Remove(3)
		s.Add(3)

		Expect(s.Has(3)).To(BeTrue())
		Expect(s.Count()).To(Equal(1))
	})

	It("should list members in order", func() {
		s := NewSharerSet(8)
		s.Add(5)
		s.Add(1)
		s.Add(3)

		Expect(s.List()).To(Equal([]int{1, 3, 5}))
		Expect(s.Others(3)).To(Equal([]int{1, 5}))
		Expect(s.First()).To(Equal(1))
		Expect(s.String()).To(Equal("{1,3,5}"))
	})

	It("should grow beyond its initial size", func() {
		s := NewSharerSet(2)
		s.Add(70)

		Expect(s.Has(70)).To(BeTrue())
		Expect(s.List()).To(Equal([]int{70}))
	})

	It("should make a node exclusive", func() {
		s := SharersOf(0, 1, 2)
		s.Only(4)

		Expect(s.List()).To(Equal([]int{4}))
	})

	It("should clone independently", func() {
		s := SharersOf(1, 2)
		c := s.Clone()
		c.Remove(1)

		Expect(s.Has(1)).To(BeTrue())
		Expect(c.Has(1)).To(BeFalse())
	})

	It("should compare by membership", func() {
		a := NewSharerSet(64)
		a.Add(1)
		b := SharersOf(1)

		Expect(a.Equal(b)).To(BeTrue())

		b.Add(2)
		Expect(a.Equal(b)).To(BeFalse())
	})
})
