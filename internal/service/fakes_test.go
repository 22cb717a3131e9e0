package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/marketplace-catalog/internal/apperr"
	"github.com/mmeshcher/marketplace-catalog/internal/model"
	"github.com/mmeshcher/marketplace-catalog/internal/repository"
)

type memState struct {
	products  map[string]model.Product
	discounts map[string]model.Discount
	orders    map[string]model.Order
	payments  map[string]model.Payment
	cart      map[[3]string]model.CartItem
}

func newMemState() *memState {
	return &memState{
		products:  map[string]model.Product{},
		discounts: map[string]model.Discount{},
		orders:    map[string]model.Order{},
		payments:  map[string]model.Payment{},
		cart:      map[[3]string]model.CartItem{},
	}
}

func cloneProduct(p model.Product) model.Product {
	p.Variants = append([]model.Variant(nil), p.Variants...)
	p.Discounts = p.Discounts.Clone()
	return p
}

func cloneDiscount(d model.Discount) model.Discount {
	d.ApplicableProducts = append([]string{}, d.ApplicableProducts...)
	return d
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.products {
		c.products[k] = cloneProduct(v)
	}
	for k, v := range st.discounts {
		c.discounts[k] = cloneDiscount(v)
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.cart {
		c.cart[k] = v
	}
	return c
}

// memStore хранит данные в памяти. Транзакции выполняются по одной, при ошибке
// состояние восстанавливается из снимка.
type memStore struct {
	*memQueries

	mu           sync.Mutex
	st           *memState
	fail         map[string]error
	onGetProduct func()
}

type memQueries struct {
	s  *memStore
	tx bool
}

func newMemStore() *memStore {
	s := &memStore{st: newMemState(), fail: map[string]error{}}
	s.memQueries = &memQueries{s: s}
	return s
}

func (s *memStore) failOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

func (s *memStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memQueries{s: s, tx: true}); err != nil {
		s.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *memStore) snapshotProduct(id string) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProduct(s.st.products[id])
}

func (s *memStore) snapshotDiscount(id string) model.Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDiscount(s.st.discounts[id])
}

func (s *memStore) putProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = cloneProduct(p)
}

func (s *memStore) putDiscount(d model.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.discounts[d.ID] = cloneDiscount(d)
}

func (s *memStore) counts() (orders, payments, cart int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders), len(s.st.payments), len(s.st.cart)
}

// begin захватывает блокировку вне транзакции и возвращает внедрённую ошибку метода.
func (q *memQueries) begin(method string) (func(), error) {
	unlock := func() {}
	if !q.tx {
		q.s.mu.Lock()
		unlock = q.s.mu.Unlock
	}
	return unlock, q.s.fail[method]
}

func (q *memQueries) Reserve(_ context.Context, productID, sku string, quantity int) error {
	unlock, err := q.begin("Reserve")
	defer unlock()
	if err != nil {
		return err
	}

	p, i, err := q.variant("reserve_stock", productID, sku)
	if err != nil {
		return err
	}
	if p.Variants[i].Stock < quantity {
		return apperr.InsufficientStock("reserve_stock", productID, sku)
	}
	p.Variants[i].Stock -= quantity
	p.Version++
	q.s.st.products[productID] = p
	return nil
}

func (q *memQueries) Release(_ context.Context, productID, sku string, quantity int) error {
	unlock, err := q.begin("Release")
	defer unlock()
	if err != nil {
		return err
	}
	_, err = q.increment("release_stock", productID, sku, quantity)
	return err
}

func (q *memQueries) Restock(_ context.Context, productID, sku string, quantity int) (int, error) {
	unlock, err := q.begin("Restock")
	defer unlock()
	if err != nil {
		return 0, err
	}
	return q.increment("restock", productID, sku, quantity)
}

func (q *memQueries) increment(op, productID, sku string, quantity int) (int, error) {
	p, i, err := q.variant(op, productID, sku)
	if err != nil {
		return 0, err
	}
	p.Variants[i].Stock += quantity
	p.Version++
	q.s.st.products[productID] = p
	return p.Variants[i].Stock, nil
}

func (q *memQueries) variant(op, productID, sku string) (model.Product, int, error) {
	p, ok := q.s.st.products[productID]
	if ok {
		p = cloneProduct(p)
		for i, v := range p.Variants {
			if v.SKU == sku {
				return p, i, nil
			}
		}
	}
	return model.Product{}, 0, apperr.NotFound(op, "variant", productID+"/"+sku)
}

func (q *memQueries) InsertProduct(_ context.Context, p *model.Product) error {
	unlock, err := q.begin("InsertProduct")
	defer unlock()
	if err != nil {
		return err
	}
	for _, other := range q.s.st.products {
		if other.Slug == p.Slug {
			return fmt.Errorf("%w: %s", repository.ErrSlugTaken, p.Slug)
		}
	}
	p.Version = 1
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	q.s.st.products[p.ID] = cloneProduct(*p)
	return nil
}

func (q *memQueries) SlugsWithPrefix(_ context.Context, base string) ([]string, error) {
	unlock, err := q.begin("SlugsWithPrefix")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range q.s.st.products {
		if p.Slug == base || strings.HasPrefix(p.Slug, base+"-") {
			out = append(out, p.Slug)
		}
	}
	return out, nil
}

func (q *memQueries) GetProduct(_ context.Context, id string) (*model.Product, error) {
	if hook := q.s.onGetProduct; hook != nil && !q.tx {
		hook()
	}
	unlock, err := q.begin("GetProduct")
	defer unlock()
	if err != nil {
		return nil, err
	}
	p, ok := q.s.st.products[id]
	if !ok {
		return nil, apperr.NotFound("get_product", "product", id)
	}
	c := cloneProduct(p)
	return &c, nil
}

func (q *memQueries) UpdateProduct(_ context.Context, p *model.Product) error {
	unlock, err := q.begin("UpdateProduct")
	defer unlock()
	if err != nil {
		return err
	}
	cur, ok := q.s.st.products[p.ID]
	if !ok {
		return apperr.NotFound("update_product", "product", p.ID)
	}
	for id, other := range q.s.st.products {
		if id != p.ID && other.Slug == p.Slug {
			return fmt.Errorf("%w: %s", repository.ErrSlugTaken, p.Slug)
		}
	}

	next := cloneProduct(cur)
	next.Name, next.Slug, next.Description = p.Name, p.Slug, p.Description
	next.Category, next.IsActive = p.Category, p.IsActive
	for _, v := range p.Variants {
		found := false
		for i := range next.Variants {
			if next.Variants[i].SKU == v.SKU {
				next.Variants[i].Price = v.Price
				found = true
			}
		}
		if !found {
			next.Variants = append(next.Variants, v)
		}
	}
	next.Version++
	p.Version = next.Version
	q.s.st.products[p.ID] = next
	return nil
}

func (q *memQueries) DeleteProduct(_ context.Context, id string) error {
	unlock, err := q.begin("DeleteProduct")
	defer unlock()
	if err != nil {
		return err
	}
	if _, ok := q.s.st.products[id]; !ok {
		return apperr.NotFound("delete_product", "product", id)
	}
	delete(q.s.st.products, id)
	for k, d := range q.s.st.discounts {
		d = cloneDiscount(d)
		d.ApplicableProducts = removeString(d.ApplicableProducts, id)
		q.s.st.discounts[k] = d
	}
	return nil
}

func (q *memQueries) ListProducts(_ context.Context, f repository.ProductFilter) ([]model.Product, error) {
	unlock, err := q.begin("ListProducts")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []model.Product
	for _, p := range q.s.st.products {
		if (!f.IncludeInactive && !p.IsActive) ||
			(f.SellerID != "" && p.SellerID != f.SellerID) ||
			(f.Category != "" && p.Category != f.Category) {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (q *memQueries) CategoryCounts(context.Context) ([]model.CategoryCount, error) {
	unlock, err := q.begin("CategoryCounts")
	defer unlock()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, p := range q.s.st.products {
		if p.IsActive {
			counts[p.Category]++
		}
	}
	out := make([]model.CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, model.CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (q *memQueries) InsertDiscount(_ context.Context, d *model.Discount) error {
	unlock, err := q.begin("InsertDiscount")
	defer unlock()
	if err != nil {
		return err
	}
	for _, other := range q.s.st.discounts {
		if other.SellerID == d.SellerID && other.Code == d.Code {
			return fmt.Errorf("%w: %s", repository.ErrDiscountCodeTaken, d.Code)
		}
	}
	q.s.st.discounts[d.ID] = cloneDiscount(*d)
	return nil
}

func (q *memQueries) GetDiscount(_ context.Context, id string) (*model.Discount, error) {
	unlock, err := q.begin("GetDiscount")
	defer unlock()
	if err != nil {
		return nil, err
	}
	d, ok := q.s.st.discounts[id]
	if !ok {
		return nil, apperr.NotFound("get_discount", "discount", id)
	}
	c := cloneDiscount(d)
	return &c, nil
}

func (q *memQueries) SetDiscountActive(_ context.Context, id string, active bool) error {
	unlock, err := q.begin("SetDiscountActive")
	defer unlock()
	if err != nil {
		return err
	}
	d, ok := q.s.st.discounts[id]
	if !ok {
		return apperr.NotFound("set_discount_active", "discount", id)
	}
	d.IsActive = active
	q.s.st.discounts[id] = d
	return nil
}

func (q *memQueries) DeleteDiscount(_ context.Context, id string) ([]string, error) {
	unlock, err := q.begin("DeleteDiscount")
	defer unlock()
	if err != nil {
		return nil, err
	}
	if _, ok := q.s.st.discounts[id]; !ok {
		return nil, apperr.NotFound("delete_discount", "discount", id)
	}
	delete(q.s.st.discounts, id)

	var touched []string
	for pid, p := range q.s.st.products {
		p = cloneProduct(p)
		if p.Discounts.Remove(id) {
			p.Version++
			q.s.st.products[pid] = p
			touched = append(touched, pid)
		}
	}
	return touched, nil
}

func (q *memQueries) AddApplicableProduct(_ context.Context, discountID, productID string) (bool, error) {
	unlock, err := q.begin("AddApplicableProduct")
	defer unlock()
	if err != nil {
		return false, err
	}
	d, ok := q.s.st.discounts[discountID]
	if !ok {
		return false, apperr.NotFound("add_applicable_product", "discount", discountID)
	}
	for _, id := range d.ApplicableProducts {
		if id == productID {
			return false, nil
		}
	}
	d = cloneDiscount(d)
	d.ApplicableProducts = append(d.ApplicableProducts, productID)
	q.s.st.discounts[discountID] = d
	return true, nil
}

func (q *memQueries) RemoveApplicableProduct(_ context.Context, discountID, productID string) (bool, error) {
	unlock, err := q.begin("RemoveApplicableProduct")
	defer unlock()
	if err != nil {
		return false, err
	}
	d, ok := q.s.st.discounts[discountID]
	if !ok {
		return false, apperr.NotFound("remove_applicable_product", "discount", discountID)
	}
	d = cloneDiscount(d)
	before := len(d.ApplicableProducts)
	d.ApplicableProducts = removeString(d.ApplicableProducts, productID)
	q.s.st.discounts[discountID] = d
	return len(d.ApplicableProducts) != before, nil
}

func (q *memQueries) MoveDiscount(_ context.Context, discountID string, target model.DiscountStatus, productIDs []string) ([]string, error) {
	unlock, err := q.begin("MoveDiscount")
	defer unlock()
	if err != nil {
		return nil, err
	}
	if _, ok := q.s.st.discounts[discountID]; !ok {
		return nil, nil
	}
	var moved []string
	for _, pid := range productIDs {
		p, ok := q.s.st.products[pid]
		if !ok {
			continue
		}
		p = cloneProduct(p)
		changed, err := p.Discounts.Place(discountID, target)
		if err != nil {
			return nil, err
		}
		if changed {
			p.Version++
			q.s.st.products[pid] = p
			moved = append(moved, pid)
		}
	}
	return moved, nil
}

func (q *memQueries) UnplaceDiscount(_ context.Context, productID, discountID string) (bool, error) {
	unlock, err := q.begin("UnplaceDiscount")
	defer unlock()
	if err != nil {
		return false, err
	}
	p, ok := q.s.st.products[productID]
	if !ok {
		return false, nil
	}
	p = cloneProduct(p)
	if !p.Discounts.Remove(discountID) {
		return false, nil
	}
	p.Version++
	q.s.st.products[productID] = p
	return true, nil
}

func (q *memQueries) ClaimDiscountUse(_ context.Context, id string) (bool, error) {
	unlock, err := q.begin("ClaimDiscountUse")
	defer unlock()
	if err != nil {
		return false, err
	}
	d, ok := q.s.st.discounts[id]
	if !ok || (d.MaxUses > 0 && d.CurrentUses >= d.MaxUses) {
		return false, nil
	}
	d.CurrentUses++
	q.s.st.discounts[id] = d
	return true, nil
}

func (q *memQueries) ReleaseDiscountUse(_ context.Context, id string) error {
	unlock, err := q.begin("ReleaseDiscountUse")
	defer unlock()
	if err != nil {
		return err
	}
	if d, ok := q.s.st.discounts[id]; ok && d.CurrentUses > 0 {
		d.CurrentUses--
		q.s.st.discounts[id] = d
	}
	return nil
}

func (q *memQueries) CountCustomerDiscountUses(_ context.Context, discountID, customerID string) (int, error) {
	unlock, err := q.begin("CountCustomerDiscountUses")
	defer unlock()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range q.s.st.orders {
		if o.DiscountID == discountID && o.CustomerID == customerID &&
			o.Status != model.OrderStatusRefused && o.Status != model.OrderStatusCancelled {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) InsertOrder(_ context.Context, o *model.Order) error {
	unlock, err := q.begin("InsertOrder")
	defer unlock()
	if err != nil {
		return err
	}
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	q.s.st.orders[o.ID] = *o
	return nil
}

func (q *memQueries) InsertPayment(_ context.Context, p *model.Payment) error {
	unlock, err := q.begin("InsertPayment")
	defer unlock()
	if err != nil {
		return err
	}
	q.s.st.payments[p.OrderID] = *p
	return nil
}

func (q *memQueries) GetOrderForUpdate(_ context.Context, id string) (*model.Order, error) {
	unlock, err := q.begin("GetOrderForUpdate")
	defer unlock()
	if err != nil {
		return nil, err
	}
	o, ok := q.s.st.orders[id]
	if !ok {
		return nil, apperr.NotFound("get_order", "order", id)
	}
	return &o, nil
}

func (q *memQueries) UpdateOrderStatus(_ context.Context, id string, from, to model.OrderStatus) (bool, error) {
	unlock, err := q.begin("UpdateOrderStatus")
	defer unlock()
	if err != nil {
		return false, err
	}
	o, ok := q.s.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	q.s.st.orders[id] = o
	return true, nil
}

func (q *memQueries) VoidPayment(_ context.Context, orderID string) error {
	unlock, err := q.begin("VoidPayment")
	defer unlock()
	if err != nil {
		return err
	}
	if p, ok := q.s.st.payments[orderID]; ok {
		p.Status = model.PaymentVoided
		q.s.st.payments[orderID] = p
	}
	return nil
}

func (q *memQueries) UpsertCartItem(_ context.Context, item model.CartItem) error {
	unlock, err := q.begin("UpsertCartItem")
	defer unlock()
	if err != nil {
		return err
	}
	q.s.st.cart[[3]string{item.CustomerID, item.ProductID, item.SKU}] = item
	return nil
}

func (q *memQueries) RemoveCartItem(_ context.Context, customerID, productID, sku string) error {
	unlock, err := q.begin("RemoveCartItem")
	defer unlock()
	if err != nil {
		return err
	}
	delete(q.s.st.cart, [3]string{customerID, productID, sku})
	return nil
}

func (q *memQueries) SearchDocuments(_ context.Context, query string, limit, offset int) ([]model.SearchDocument, error) {
	unlock, err := q.begin("SearchDocuments")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []model.SearchDocument
	for _, p := range q.s.st.products {
		if p.IsActive && strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			out = append(out, model.NewSearchDocument(&p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func removeString(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
