package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvoice     = "invoice"
	ObjectChangeOrder = "change_order"
	ObjectBilling     = "billing"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionInvoiceView          = "invoice.view"
	ActionInvoiceCreate        = "invoice.create"
	ActionInvoiceUpdate        = "invoice.update"
	ActionInvoiceSend          = "invoice.send"
	ActionInvoiceRecordPayment = "invoice.record_payment"
	ActionInvoiceVoid          = "invoice.void"

	ActionChangeOrderView    = "change_order.view"
	ActionChangeOrderCreate  = "change_order.create"
	ActionChangeOrderApprove = "change_order.approve"

	ActionBillingView      = "billing.view"
	ActionBillingTier      = "billing.change_tier"
	ActionBillingOverride  = "billing.override"
	ActionBillingReconcile = "billing.reconcile_seats"

	ActionAuditLogView = "audit_log.view"
)

type Service interface {
	Authorize(ctx context.Context, actor orgcontext.Actor, businessID snowflake.ID, object string, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor orgcontext.Actor, businessID snowflake.ID, object string, action string) error {
	if actor.IsZero() {
		return ErrInvalidActor
	}
	if businessID == 0 {
		return ErrInvalidBusiness
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := roleFor(actor)
	if err != nil {
		s.auditDenied(ctx, actor, businessID, object, action)
		return err
	}
	subject := subjectFor(actor)
	domain := fmt.Sprintf("business:%s", businessID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, businessID, object, action)
		return ErrForbidden
	}
	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actor, businessID, object, action)
	}
	return nil
}

func roleFor(actor orgcontext.Actor) (string, error) {
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	switch role {
	case orgcontext.RoleMember, orgcontext.RoleAdmin, orgcontext.RoleOwner, orgcontext.RoleSystem:
		return "role:" + role, nil
	case "":
		return "role:" + orgcontext.RoleMember, nil
	default:
		return "", ErrForbidden
	}
}

func subjectFor(actor orgcontext.Actor) string {
	if strings.ToLower(actor.Role) == orgcontext.RoleSystem {
		return "system"
	}
	return "user:" + actor.ID
}

// ensureGrouping keeps exactly one role per subject and business.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor orgcontext.Actor, businessID snowflake.ID, object string, action string) {
	s.auditDecision(ctx, "authorization.denied", actor, businessID, object, action)
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actor orgcontext.Actor, businessID snowflake.ID, object string, action string) {
	s.auditDecision(ctx, "authorization.granted", actor, businessID, object, action)
}

func (s *ServiceImpl) auditDecision(ctx context.Context, event string, actor orgcontext.Actor, businessID snowflake.ID, object string, action string) {
	if s.auditSvc == nil || businessID == 0 {
		return
	}
	err := s.auditSvc.AuditLog(ctx, businessID, event, "authorization", "capability", map[string]any{
		"object":  object,
		"action":  action,
		"role":    actor.Role,
		"subject": subjectFor(actor),
	})
	if err != nil {
		s.log.Warn("audit authorization decision", zap.String("event", event), zap.Error(err))
	}
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionInvoiceVoid, ActionBillingTier, ActionBillingOverride:
		return true
	default:
		return false
	}
}

var memberActions = [][2]string{
	{ObjectInvoice, ActionInvoiceView},
	{ObjectInvoice, ActionInvoiceCreate},
	{ObjectInvoice, ActionInvoiceUpdate},
	{ObjectChangeOrder, ActionChangeOrderView},
	{ObjectChangeOrder, ActionChangeOrderCreate},
	{ObjectBilling, ActionBillingView},
}

var elevatedActions = [][2]string{
	{ObjectInvoice, ActionInvoiceSend},
	{ObjectInvoice, ActionInvoiceRecordPayment},
	{ObjectInvoice, ActionInvoiceVoid},
	{ObjectChangeOrder, ActionChangeOrderApprove},
	{ObjectBilling, ActionBillingTier},
	{ObjectBilling, ActionBillingOverride},
	{ObjectBilling, ActionBillingReconcile},
	{ObjectAuditLog, ActionAuditLogView},
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	grants := map[string][][2]string{
		"role:member": memberActions,
		"role:admin":  append(append([][2]string{}, memberActions...), elevatedActions...),
		"role:owner":  append(append([][2]string{}, memberActions...), elevatedActions...),
		"role:system": append(append([][2]string{}, memberActions...), elevatedActions...),
	}
	for role, actions := range grants {
		for _, grant := range actions {
			if _, err := enforcer.AddPolicy(role, grant[0], grant[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
