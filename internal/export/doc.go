// Package export переводит workflow в каноническую опубликованную
// конфигурацию и обратно.
//
//	{
//	  "categoryName": "Weather Pipeline",
//	  "categoryId": "weather",
//	  "categoryValues": {
//	    "apiType": "REST", "endpoint": "...", "method": "GET", "auth": null,
//	    "inputSchema": {...}, "outputSchema": {...},
//	    "transformations": [...], "chainedAPIs": [...],
//	    "mockEnabled": false, "mockResponse": null
//	  }
//	}
//
// Сериализация не зависит от выполнения: только структура и конфигурации.
package export
