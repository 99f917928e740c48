// Package perm resolves who may press what. The source of truth for role and
// capability columns lives here; the spreadsheet matrix and the chat router
// both derive from these tables, so adding a button means adding one line in
// this file and the export grows the matching column on its next run.
package perm

// Role flags. These gate fan-outs and subscriptions rather than buttons.
const (
	RoleSysAdmin        = "🔧 Сис.Админ"
	RoleReceiverKitchen = "📬 Получатель (Кухня)"
	RoleReceiverBar     = "📬 Получатель (Бар)"
	RoleReceiverPastry  = "📬 Получатель (Кондитерка)"
	RoleStock           = "📦 Остатки"
	RoleStoplist        = "🚫 Стоп-лист"
	RoleAccountant      = "📑 Бухгалтер"
)

// Granular capabilities. Each one is a checkbox column in the matrix;
// administrators bypass all of them.
const (
	PermWriteoffCreate  = "📝 Создать списание"
	PermWriteoffHistory = "📝 История списаний"
	PermWriteoffApprove = "📝 Одобрение списаний"

	PermInvoiceTemplate = "📦 Создать шаблон"
	PermInvoiceCreate   = "📦 Создать накладную"

	PermRequestCreate  = "📋 Создать заявку"
	PermRequestHistory = "📋 История заявок"
	PermRequestApprove = "📋 Одобрение заявок"

	PermReportView    = "📊 Просмотр отчётов"
	PermReportEditMin = "📊 Изменение мин.остатков"

	PermOCRUpload = "📑 Загрузка OCR"
	PermOCRSend   = "📑 Отправка в iiko"

	PermSettings = "⚙️ Настройки"
)

// RoleKeys in matrix column order.
var RoleKeys = []string{
	RoleSysAdmin,
	RoleReceiverKitchen, RoleReceiverBar, RoleReceiverPastry,
	RoleStock, RoleStoplist, RoleAccountant,
}

// PermissionKeys in matrix column order.
var PermissionKeys = []string{
	PermWriteoffCreate, PermWriteoffHistory, PermWriteoffApprove,
	PermInvoiceTemplate, PermInvoiceCreate,
	PermRequestCreate, PermRequestHistory, PermRequestApprove,
	PermReportView, PermReportEditMin,
	PermOCRUpload, PermOCRSend,
	PermSettings,
}

// AllColumnKeys is the full matrix column set, roles first.
func AllColumnKeys() []string {
	out := make([]string, 0, len(RoleKeys)+len(PermissionKeys))
	out = append(out, RoleKeys...)
	out = append(out, PermissionKeys...)
	return out
}

// MenuButtonGroups maps a main-menu button to the capabilities any one of
// which makes the button visible.
var MenuButtonGroups = map[string][]string{
	"📝 Списания":  {PermWriteoffCreate, PermWriteoffHistory, PermWriteoffApprove},
	"📦 Накладные": {PermInvoiceTemplate, PermInvoiceCreate},
	"📋 Заявки":    {PermRequestCreate, PermRequestHistory, PermRequestApprove},
	"📊 Отчёты":    {PermReportView, PermReportEditMin},
	"📑 Документы": {PermOCRUpload, PermOCRSend},
	"⚙️ Настройки": {PermSettings},
}

// TextPermissions maps reply-button text to the capability it requires.
// The router consults this before dispatching any text handler.
var TextPermissions = map[string]string{
	"📝 Создать списание":         PermWriteoffCreate,
	"🗂 История списаний":         PermWriteoffHistory,
	"📑 Создать шаблон накладной": PermInvoiceTemplate,
	"📦 Создать по шаблону":       PermInvoiceCreate,
	"✏️ Создать заявку":           PermRequestCreate,
	"📒 История заявок":           PermRequestHistory,
	"📬 Входящие заявки":          PermRequestApprove,
	"📊 Мин. остатки по складам":  PermReportView,
	"✏️ Изменить мин. остаток":    PermReportEditMin,
	"📤 Загрузить накладные":      PermOCRUpload,
	"✅ Маппинг готов":            PermOCRUpload,

	"⚙️ Настройки":        PermSettings,
	"🔄 Синхронизация":    PermSettings,
	"📤 Google Таблицы":   PermSettings,
	"☁️ iikoCloud вебхук": PermSettings,

	"📤 Номенклатура → GSheet":    PermSettings,
	"📥 Мин. остатки GSheet → БД": PermSettings,
	"💰 Прайс-лист → GSheet":      PermSettings,
	"🔑 Права → GSheet":           PermSettings,
	"⚡ Синхр. ВСЁ (iiko + FT)":   PermSettings,
	"🔄 Синхр. ВСЁ iiko":          PermSettings,
	"💹 FT: Синхр. ВСЁ":           PermSettings,
	"📋 Синхр. справочники":       PermSettings,
	"📦 Синхр. номенклатуру":      PermSettings,
	"🏢 Синхр. подразделения":     PermSettings,
	"🏪 Синхр. склады":            PermSettings,
	"🚚 Синхр. поставщиков":       PermSettings,
	"👷 Синхр. сотрудников":       PermSettings,
	"🌙 Ночное перемещение сейчас": PermSettings,

	"📋 Получить организации":    PermSettings,
	"🔗 Привязать организации":   PermSettings,
	"🔗 Зарегистрировать вебхук": PermSettings,
	"ℹ️ Статус вебхука":          PermSettings,
	"🔄 Обновить остатки сейчас": PermSettings,

	"📋 Отчёт дня": PermReportView,

	"📝 Списания":  PermWriteoffCreate,
	"📦 Накладные": PermInvoiceCreate,
	"📋 Заявки":    PermRequestCreate,
	"📊 Отчёты":    PermReportView,
	"📑 Документы": PermOCRUpload,
}

// CallbackPermissions maps a callback-data prefix to its required capability.
var CallbackPermissions = map[string]string{
	"iiko_invoice_send:":   PermOCRSend,
	"iiko_invoice_cancel:": PermOCRSend,
	"mapping_done":         PermOCRUpload,
	"refresh_mapping_ref":  PermOCRUpload,

	"woa_approve:": PermWriteoffApprove,
	"woa_reject:":  PermWriteoffApprove,
	"woa_edit:":    PermWriteoffApprove,

	"req_approve:": PermRequestApprove,
	"req_edit:":    PermRequestApprove,
	"req_reject:":  PermRequestApprove,
}

// ReceiverCallbacks are allowed for receivers and administrators.
var ReceiverCallbacks = []string{
	"req_approve:", "req_edit:", "req_reject:",
}
