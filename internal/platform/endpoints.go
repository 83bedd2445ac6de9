package platform

// Platform REST endpoints consumed by the portal.
const (
	PathLogin = "/idp/api/v1/auth/login"
	PathUser  = "/idp/api/v1/user"
	PathRole  = "/idp/api/v1/role"

	PathMerchant          = "/admin/api/v1/merchant"
	PathMember            = "/admin/api/v1/member"
	PathCommunityOwner    = "/admin/api/v1/community-owner"
	PathAccountRule       = "/admin/api/v1/account-rule"
	PathHoliday           = "/admin/api/v1/holiday"
	PathTransactionType   = "/admin/api/v1/transaction-type"
	PathEmailContent      = "/admin/api/v1/content/email"
	PathSMSContent        = "/admin/api/v1/content/sms"
	PathReportTransaction = "/admin/api/v1/report/transaction"
	PathReportSettlement  = "/admin/api/v1/report/settlement"
	PathReportBalance     = "/admin/api/v1/report/balance"

	PathMerchantProfile = "/merchant/api/v1/profile"
	PathQRDynamic       = "/merchant/api/v1/qr/dynamic"
	PathQRStatus        = "/merchant/api/v1/qr/dynamic/status"
	PathQRStatusUpdate  = "/merchant/api/v1/qr/dynamic/status/update"

	PathCashoutBanks    = "/merchant/api/v1/cashout/bank"
	PathCashoutServices = "/merchant/api/v1/cashout/transfer-service"
	PathCashoutInquiry  = "/merchant/api/v1/cashout/inquiry"
	PathCashoutPayment  = "/merchant/api/v1/cashout/payment"
)
