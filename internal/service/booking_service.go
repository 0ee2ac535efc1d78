package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Leganyst/consultation-slots/internal/calendar"
	"github.com/Leganyst/consultation-slots/internal/changefeed"
	"github.com/Leganyst/consultation-slots/internal/model"
	"github.com/Leganyst/consultation-slots/internal/monitoring"
	"github.com/Leganyst/consultation-slots/internal/payment"
	"github.com/Leganyst/consultation-slots/internal/repository"
)

// Deps: общие зависимости сервисов записи.
type Deps struct {
	Bookings repository.BookingRepository
	Events   repository.EventRepository
	Batches  repository.BlockBatchRepository

	Window calendar.Window
	Policy model.BlockDeletePolicy

	// Срок ожидания оплаты; 0 — без ограничения.
	PendingPaymentTTL time.Duration

	Gateway  payment.Gateway
	Notifier changefeed.Notifier
	Feed     *changefeed.Feed
	Metrics  *monitoring.Metrics
	Log      *zap.Logger

	Now func() time.Time
}

func (d *Deps) defaults() {
	if d.Metrics == nil {
		d.Metrics = monitoring.NewNopMetrics()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Policy == "" {
		d.Policy = model.DeletePolicyKeepOccupied
	}
	if d.Window.SlotDuration == 0 {
		d.Window = calendar.DefaultWindow(d.Window.Location)
	}
}

// SubmitRequest: заявка клиента на слот.
type SubmitRequest struct {
	SlotAt           time.Time
	Contact          model.Contact
	ConsultationType string
	Description      string
}

// BookingService: клиентская ветка: подача заявки, одобрение, оплата, отмена.
type BookingService struct {
	bookings repository.BookingRepository
	events   repository.EventRepository
	gateway  payment.Gateway
	notifier changefeed.Notifier

	avail     *availability
	guard     *ConflictGuard
	lifecycle lifecycle
	window    calendar.Window
	ttl       time.Duration

	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewBookingService(deps Deps) *BookingService {
	deps.defaults()
	return &BookingService{
		bookings: deps.Bookings,
		events:   deps.Events,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		avail: &availability{
			bookings: deps.Bookings,
			feed:     deps.Feed,
			window:   deps.Window,
			policy:   deps.Policy,
			metrics:  deps.Metrics,
		},
		guard:     NewConflictGuard(deps.Metrics),
		lifecycle: lifecycle{policy: deps.Policy, loc: deps.Window.Location, now: deps.Now},
		window:    deps.Window,
		ttl:       deps.PendingPaymentTTL,
		metrics:   deps.Metrics,
		log:       deps.Log,
		now:       deps.Now,
	}
}

// validateSlot нормализует момент до минуты и проверяет, что он совпадает
// с началом слота сетки и ещё не наступил.
func validateSlot(w calendar.Window, at, now time.Time) (time.Time, error) {
	if at.IsZero() {
		return time.Time{}, invalid("slot", "is required")
	}
	at = calendar.NormalizeSlotTime(at)

	onGrid := false
	for _, s := range calendar.DailySlots(w, at) {
		if s.Start.Equal(at) {
			onGrid = true
			break
		}
	}
	if !onGrid {
		return time.Time{}, invalid("slot", "is not a slot start within business hours")
	}
	if !at.After(now) {
		return time.Time{}, invalid("slot", "is in the past")
	}
	return at, nil
}

var validate = validator.New()

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// normalizeContact убирает пробелы по краям и разделители в номере телефона.
func normalizeContact(c model.Contact) model.Contact {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = phoneSeparators.Replace(strings.TrimSpace(c.Phone))
	return c
}

// validateContact проверяет теги validate у model.Contact. Телефон в E.164,
// почта без отображаемого имени. Нужен хотя бы один канал связи.
func validateContact(c model.Contact) error {
	if err := validate.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) || len(fields) == 0 {
			return err
		}
		fe := fields[0]
		return invalid("contact."+strings.ToLower(fe.Field()), contactMessage(fe))
	}
	if c.Email == "" && c.Phone == "" {
		return invalid("contact", "email or phone is required")
	}
	return nil
}

func contactMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is malformed"
	case "e164":
		return "must be in E.164 format"
	case "max":
		return "is too long"
	}
	return "failed " + fe.Tag() + " check"
}

// Submit создаёт заявку в статусе AwaitingAdminResponse.
// Занятый слот: ErrSlotUnavailable, как при проверке снимка, так и при гонке в хранилище.
func (s *BookingService) Submit(ctx context.Context, req SubmitRequest) (*model.Booking, error) {
	at, err := validateSlot(s.window, req.SlotAt, s.now())
	if err != nil {
		return nil, err
	}
	contact := normalizeContact(req.Contact)
	if err := validateContact(contact); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ConsultationType) == "" {
		return nil, invalid("consultationType", "is required")
	}

	ix, err := s.avail.index(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Check(ix, at); err != nil {
		s.log.Info("booking rejected: slot occupied", zap.Time("slot", at))
		return nil, err
	}

	b := &model.Booking{
		SlotAt:           at,
		SlotKey:          calendar.SlotKey(at),
		DurationMin:      int(s.window.SlotDuration / time.Minute),
		Contact:          contact,
		ConsultationType: req.ConsultationType,
		Description:      req.Description,
		Status:           model.StatusAwaitingAdminResponse,
	}
	clientID := contact.Email
	if clientID == "" {
		clientID = contact.Phone
	}
	ev := s.lifecycle.event(model.EventTypeBookingSubmitted, Client(clientID), "", b.Status, "")

	if err := s.bookings.Create(ctx, b, ev); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			s.metrics.SlotConflicts.WithLabelValues("storage").Inc()
			s.log.Warn("booking lost slot race", zap.String("slot_key", b.SlotKey))
		}
		return nil, storageErr("create booking", err)
	}

	s.metrics.Transitions.WithLabelValues("", string(b.Status)).Inc()
	s.log.Info("booking submitted",
		zap.String("booking_id", b.ID.String()),
		zap.String("slot_key", b.SlotKey),
	)
	s.changed(ctx)
	return b, nil
}

// Approve: только администратор. Уведомление ставится в outbox в той же транзакции;
// сбой доставки не откатывает переход.
func (s *BookingService) Approve(ctx context.Context, actor Actor, id uuid.UUID) (*model.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.apply(ctx, "approve booking", id, s.lifecycle.approve(actor))
}

// Cancel: отмена клиентской записи администратором, слот освобождается.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*model.Booking, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.apply(ctx, "cancel booking", id, s.lifecycle.cancel(actor, strings.TrimSpace(reason)))
}

// InitiatePayment запрашивает платёж у шлюза и сохраняет идентификатор транзакции.
func (s *BookingService) InitiatePayment(ctx context.Context, id uuid.UUID, amount int64, payerReference string) (*payment.Intent, error) {
	if s.gateway == nil {
		return nil, payment.ErrNotConfigured
	}
	if amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}

	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get booking", err)
	}
	if b.IsAdminBlock || b.Deleted || b.Status != model.StatusPendingPayment || b.PaymentStatus {
		return nil, transitionErr(b, model.StatusBookingApproved)
	}

	intent, err := s.gateway.Initiate(ctx, payment.Request{
		BookingID:      b.ID,
		Amount:         amount,
		PayerReference: payerReference,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.bookings.Update(ctx, id, s.lifecycle.initiatePayment(intent.TransactionID)); err != nil {
		return nil, storageErr("store payment transaction", err)
	}
	s.log.Info("payment initiated",
		zap.String("booking_id", id.String()),
		zap.String("transaction_id", intent.TransactionID),
	)
	return intent, nil
}

// RecordPaymentResult: обратный вызов платёжного сервиса. Запись ищется по ID
// транзакции, если bookingID не задан. Повтор того же результата безопасен.
// Успех по отменённой записи сохраняется и возвращается вместе с ErrRefundRequired.
func (s *BookingService) RecordPaymentResult(ctx context.Context, bookingID uuid.UUID, res payment.Result) (*model.Booking, error) {
	if res.TransactionID == "" {
		return nil, invalid("transactionId", "is required")
	}

	if bookingID == uuid.Nil {
		b, err := s.bookings.GetByTransactionID(ctx, res.TransactionID)
		if err != nil {
			return nil, storageErr("find booking by transaction", err)
		}
		bookingID = b.ID
	}

	var (
		b   *model.Booking
		err error
	)
	// одна повторная попытка на случай параллельного колбэка
	for attempt := 0; attempt < 2; attempt++ {
		b, err = s.apply(ctx, "record payment", bookingID, s.lifecycle.recordPayment(res))
		if !errors.Is(err, repository.ErrStaleRecord) {
			break
		}
	}
	if err != nil {
		s.log.Warn("payment result not applied",
			zap.String("booking_id", bookingID.String()),
			zap.String("transaction_id", res.TransactionID),
			zap.Bool("success", res.Success),
			zap.Error(err),
		)
		return nil, err
	}

	if res.Success && b.Status == model.StatusCancelled {
		s.metrics.PaymentsRefundRequired.Inc()
		s.log.Error("payment captured for cancelled booking",
			zap.String("booking_id", b.ID.String()),
			zap.String("transaction_id", res.TransactionID),
		)
		monitoring.CaptureError(ErrRefundRequired, map[string]interface{}{
			"booking_id":     b.ID.String(),
			"transaction_id": res.TransactionID,
		})
		return b, fmt.Errorf("%w: booking %s, transaction %s", ErrRefundRequired, b.ID, res.TransactionID)
	}
	return b, nil
}

// ExpirePendingPayments отменяет записи, ожидающие оплаты дольше срока.
// Возвращает число отменённых. Ошибки по отдельным записям логируются.
func (s *BookingService) ExpirePendingPayments(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl)

	stale, err := s.bookings.ListStalePending(ctx, cutoff, 100)
	if err != nil {
		return 0, storageErr("list stale pending payments", err)
	}

	expired := 0
	for _, b := range stale {
		if _, err := s.apply(ctx, "expire pending payment", b.ID, s.lifecycle.expire(cutoff)); err != nil {
			s.log.Warn("pending payment not expired", zap.String("booking_id", b.ID.String()), zap.Error(err))
			continue
		}
		expired++
		s.metrics.PaymentsExpired.Inc()
	}
	if expired > 0 {
		s.log.Info("pending payments expired", zap.Int("count", expired))
	}
	return expired, nil
}

// apply выполняет переход и публикует изменение.
func (s *BookingService) apply(ctx context.Context, op string, id uuid.UUID, decide repository.DecideFunc) (*model.Booking, error) {
	var before model.BookingStatus
	wrapped := func(b *model.Booking) (*repository.Mutation, error) {
		before = b.Status
		return decide(b)
	}

	b, err := s.bookings.Update(ctx, id, wrapped)
	if err != nil {
		return nil, storageErr(op, err)
	}

	if before != b.Status {
		s.metrics.Transitions.WithLabelValues(string(before), string(b.Status)).Inc()
		s.log.Info("booking transition",
			zap.String("op", op),
			zap.String("booking_id", id.String()),
			zap.String("from", string(before)),
			zap.String("to", string(b.Status)),
		)
	}
	s.changed(ctx)
	return b, nil
}

// changed сообщает подписчикам об изменении. Ошибка шины не влияет на результат операции.
func (s *BookingService) changed(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx); err != nil {
		s.log.Warn("change notification failed", zap.Error(err))
	}
}

// Get возвращает запись по ID.
func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get booking", err)
	}
	return b, nil
}

// History: журнал переходов записи.
func (s *BookingService) History(ctx context.Context, actor Actor, id uuid.UUID) ([]model.Event, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	events, err := s.events.ListByBooking(ctx, id)
	if err != nil {
		return nil, storageErr("list booking events", err)
	}
	return events, nil
}

// ListByStatus: неудалённые записи в статусе status, новые сверху.
func (s *BookingService) ListByStatus(ctx context.Context, actor Actor, status model.BookingStatus, page, pageSize int) (calendar.Page[model.Booking], error) {
	if err := requireAdmin(actor); err != nil {
		return calendar.Page[model.Booking]{}, err
	}
	if !status.Valid() {
		return calendar.Page[model.Booking]{}, invalid("status", "unknown value "+string(status))
	}

	bookings, err := s.bookings.Query(ctx, repository.Query{
		Equal:   map[string]any{"status": status, "deleted": false},
		OrderBy: "created_at",
		Desc:    true,
	})
	if err != nil {
		return calendar.Page[model.Booking]{}, storageErr("list bookings", err)
	}
	return calendar.Paginate(bookings, page, pageSize), nil
}

// Availability: текущий снимок индекса доступности.
func (s *BookingService) Availability(ctx context.Context) (*calendar.Index, error) {
	return s.avail.index(ctx)
}

// WatchAvailability отдаёт пересобранный индекс после каждого изменения.
func (s *BookingService) WatchAvailability(ctx context.Context) (<-chan *calendar.Index, error) {
	return s.avail.watch(ctx)
}

// Month: доступность дней месяца, в который попадает month, относительно текущей даты.
func (s *BookingService) Month(ctx context.Context, month time.Time) ([]calendar.DayAvailability, error) {
	ix, err := s.avail.index(ctx)
	if err != nil {
		return nil, err
	}
	return calendar.MonthAvailability(ix, month, s.now()), nil
}

// FreeSlots: свободные слоты дня.
func (s *BookingService) FreeSlots(ctx context.Context, day time.Time) ([]calendar.TimeSlot, error) {
	ix, err := s.avail.index(ctx)
	if err != nil {
		return nil, err
	}
	if !ix.IsDaySelectable(day, s.now()) {
		return nil, nil
	}
	return ix.FreeSlots(day), nil
}
