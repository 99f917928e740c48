package chat

// NavButtons are the top-level reply buttons from every menu. Pressing any of
// them while a workflow is active aborts that workflow before normal
// dispatch, which is how button-based escape from any deep state works.
var NavButtons = map[string]bool{}

func init() {
	for _, b := range []string{
		// Main menu.
		"📝 Списания", "📦 Накладные", "📋 Заявки", "📊 Отчёты",
		"📑 Документы", "⚙️ Настройки", "🏠 Сменить ресторан", "💰 Прайс-лист",
		// Write-offs.
		"📝 Создать списание", "🗂 История списаний",
		// Invoices.
		"📑 Создать шаблон накладной", "📦 Создать по шаблону",
		// Requests.
		"✏️ Создать заявку", "📒 История заявок", "📬 Входящие заявки",
		// Reports.
		"📊 Мин. остатки по складам", "✏️ Изменить мин. остаток", "📋 Отчёт дня",
		// Settings.
		"🔄 Синхронизация", "📤 Google Таблицы", "🔑 Права → GSheet",
		"☁️ iikoCloud вебхук",
		// Documents (OCR).
		"📤 Загрузить накладные", "✅ Маппинг готов",
		// Back and cancel.
		"◀️ Назад", "🔙 К настройкам", "❌ Отмена",
		// POS sync.
		"⚡ Синхр. ВСЁ (iiko + FT)", "🔄 Синхр. ВСЁ iiko",
		"📋 Синхр. справочники", "📦 Синхр. номенклатуру",
		"🚚 Синхр. поставщиков", "🏢 Синхр. подразделения",
		"🏪 Синхр. склады", "👥 Синхр. группы",
		"👷 Синхр. сотрудников", "🎭 Синхр. должности",
		"🌙 Ночное перемещение сейчас",
		// Finance sync.
		"💹 FT: Синхр. ВСЁ", "📊 FT: Статьи", "💰 FT: Счета",
		"🤝 FT: Контрагенты", "🎯 FT: Направления", "📦 FT: Товары",
		"📝 FT: Сделки", "📋 FT: Обязательства", "👤 FT: Сотрудники",
		// Spreadsheet exchange.
		"📤 Номенклатура → GSheet", "📥 Мин. остатки GSheet → БД",
		"💰 Прайс-лист → GSheet",
		// Cloud webhook.
		"📋 Получить организации", "🔗 Привязать организации",
		"🔗 Зарегистрировать вебхук", "ℹ️ Статус вебхука",
		"🔄 Обновить остатки сейчас",
	} {
		NavButtons[b] = true
	}
}
